package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderKind string

const (
	OrderMarket    OrderKind = "market"
	OrderLimit     OrderKind = "limit"
	OrderStop      OrderKind = "stop"
	OrderStopLimit OrderKind = "stop_limit"
)

// UsesLimit reports whether orders of this kind carry a limit price.
func (k OrderKind) UsesLimit() bool {
	return k == OrderLimit || k == OrderStopLimit
}

func (k OrderKind) UsesStop() bool {
	return k == OrderStop || k == OrderStopLimit
}

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// Order is immutable once submitted.
type Order struct {
	ClientOrderID   string           `json:"client_order_id"`
	Subject         string           `json:"subject"`
	Side            OrderSide        `json:"side"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Kind            OrderKind        `json:"kind"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	ReferencePrice  decimal.Decimal  `json:"reference_price"`
	InstrumentClass string           `json:"instrument_class"`
	// Multiplier is the contract size for options; zero means one.
	Multiplier decimal.Decimal `json:"multiplier,omitempty"`
}

// Price is the price RiskGate values the order at. Only limit kinds use their limit
// price; everything else is valued at the reference price.
func (o Order) Price() decimal.Decimal {
	if o.Kind.UsesLimit() && o.LimitPrice != nil && o.LimitPrice.IsPositive() {
		return *o.LimitPrice
	}
	return o.ReferencePrice
}

func (o Order) ContractMultiplier() decimal.Decimal {
	if o.Multiplier.IsPositive() {
		return o.Multiplier
	}
	return decimal.NewFromInt(1)
}

// Value is quantity * price * multiplier.
func (o Order) Value() decimal.Decimal {
	return o.Quantity.Mul(o.Price()).Mul(o.ContractMultiplier())
}

// SignedValue is positive for buys and negative for sells.
func (o Order) SignedValue() decimal.Decimal {
	if o.Side == SideSell {
		return o.Value().Neg()
	}
	return o.Value()
}

// Position is externally owned and read-only here. Quantity is negative for shorts.
type Position struct {
	Subject         string          `json:"subject"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageCost     decimal.Decimal `json:"average_cost"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	InstrumentClass string          `json:"instrument_class,omitempty"`
}

// MarketValue is signed: negative for short positions.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

type AccountInfo struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
}

// RiskVerdict is only persisted in the execution audit trail.
type RiskVerdict struct {
	Accepted         bool             `json:"accepted"`
	Reason           string           `json:"reason,omitempty"`
	Rule             int              `json:"rule,omitempty"`
	Detail           string           `json:"detail,omitempty"`
	AdjustedQuantity *decimal.Decimal `json:"adjusted_quantity,omitempty"`
}

// SubmitResult is the broker acknowledgement of an order.
type SubmitResult struct {
	Accepted      bool        `json:"accepted"`
	BrokerOrderID string      `json:"broker_order_id"`
	Status        OrderStatus `json:"status"`
}

// ExecutionOutcome summarizes what happened to a decision.
type ExecutionOutcome string

const (
	OutcomeNoAction       ExecutionOutcome = "no_action"
	OutcomeSubmitted      ExecutionOutcome = "submitted"
	OutcomeRejectedByRisk ExecutionOutcome = "rejected_by_risk"
	OutcomeSubmitFailed   ExecutionOutcome = "submit_failed"
)

type ExecutionResult struct {
	RunID          string           `json:"run_id"`
	Sequence       int              `json:"sequence"`
	IdempotencyKey string           `json:"idempotency_key"`
	Outcome        ExecutionOutcome `json:"outcome"`
	Order          *Order           `json:"order,omitempty"`
	Verdict        *RiskVerdict     `json:"verdict,omitempty"`
	BrokerOrderID  string           `json:"broker_order_id,omitempty"`
	OrderStatus    OrderStatus      `json:"order_status,omitempty"`
	Error          string           `json:"error,omitempty"`
	// Replayed is true when the result came from the idempotency ledger.
	Replayed  bool      `json:"replayed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
