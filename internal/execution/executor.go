// Package execution turns a terminal decision into at most one broker order per
// idempotency key.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/broker"
	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/internal/metrics"
	"github.com/dyike/cortexflow/internal/retry"
	"github.com/dyike/cortexflow/models"
)

// RiskValidator is the RiskGate contract.
type RiskValidator interface {
	Validate(ctx context.Context, order models.Order, positions []models.Position, account models.AccountInfo) models.RiskVerdict
}

// PriceSource supplies the reference price of a subject on a date.
type PriceSource interface {
	Price(ctx context.Context, symbol, asOfDate string) (decimal.Decimal, error)
}

type Executor struct {
	broker broker.Broker
	gate   RiskValidator
	prices PriceSource
	sizer  Sizer
	ledger Ledger
	locks  *checkpoint.KeyedLocker
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Executor)

func WithSizer(s Sizer) Option {
	return func(e *Executor) {
		if s != nil {
			e.sizer = s
		}
	}
}

func WithLedger(l Ledger) Option {
	return func(e *Executor) {
		if l != nil {
			e.ledger = l
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Executor) { e.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExecutor(b broker.Broker, gate RiskValidator, prices PriceSource, opts ...Option) *Executor {
	e := &Executor{
		broker: b,
		gate:   gate,
		prices: prices,
		sizer:  NewFixedFractionSizer(0.10),
		ledger: NewMemoryLedger(),
		locks:  checkpoint.NewKeyedLocker(),
		policy: retry.DefaultPolicy(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.OnRetry == nil {
		e.policy.OnRetry = metrics.Retry
	}
	return e
}

// IdempotencyKey identifies the seq-th order of a run.
func IdempotencyKey(runID string, seq int) string {
	return fmt.Sprintf("%s#%d", runID, seq)
}

// Execute converts decision into an order, gates it and submits it. A key that
// already holds a submission or a risk rejection is answered from the ledger
// without touching the broker. Submit failures are recorded and returned as
// transient errors; calling again with the same key retries the same order.
// Failures before the gate (reference price, positions, account, sizing) are not
// recorded and keep their own kind and reason code.
func (e *Executor) Execute(ctx context.Context, decision *models.Decision, state *models.RunState, seq int) (*models.ExecutionResult, error) {
	if decision == nil || state == nil {
		return nil, errs.Fatalf(errs.CodeInvalidRequest, "execute", "decision and state are required")
	}
	key := IdempotencyKey(state.RunID, seq)

	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return nil, errs.Fatal(errs.CodeCancelled, "execute", err)
	}
	defer unlock()

	prior, err := e.ledger.Get(ctx, key)
	if err != nil {
		return nil, errs.Transient("execute", fmt.Errorf("read ledger: %w", err))
	}
	if prior != nil && prior.Outcome != models.OutcomeSubmitFailed {
		e.logger.Info("execution replayed from ledger", "key", key, "outcome", prior.Outcome)
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	}

	result := &models.ExecutionResult{
		RunID:          state.RunID,
		Sequence:       seq,
		IdempotencyKey: key,
		CreatedAt:      e.now(),
	}

	if decision.Direction == models.DirectionHold || !decision.Direction.Valid() {
		result.Outcome = models.OutcomeNoAction
		e.record(ctx, result)
		return result, nil
	}

	order, positions, account, err := e.buildOrder(ctx, key, decision, state)
	if err != nil {
		e.logger.Error("order preparation failed", "key", key, "kind", errs.KindOf(err), "err", err)
		return nil, fmt.Errorf("execute %s: %w", key, err)
	}
	if order == nil {
		result.Outcome = models.OutcomeNoAction
		result.Error = "position size rounds to zero"
		e.record(ctx, result)
		return result, nil
	}
	result.Order = order

	verdict := e.gate.Validate(ctx, *order, positions, account)
	result.Verdict = &verdict
	if !verdict.Accepted {
		result.Outcome = models.OutcomeRejectedByRisk
		e.logger.Warn("order rejected by risk gate",
			"key", key,
			"reason", verdict.Reason,
			"detail", verdict.Detail,
		)
		metrics.Order(string(result.Outcome), string(order.Side))
		e.record(ctx, result)
		return result, nil
	}

	ack, err := retry.DoValue(ctx, e.policy, "broker submit", func(ctx context.Context) (models.SubmitResult, error) {
		return e.broker.SubmitOrder(ctx, *order)
	})
	if err != nil {
		return e.failed(ctx, result, order.Side, err)
	}
	if !ack.Accepted {
		result.OrderStatus = ack.Status
		return e.failed(ctx, result, order.Side, fmt.Errorf("broker %s rejected order", e.broker.Name()))
	}

	result.Outcome = models.OutcomeSubmitted
	result.BrokerOrderID = ack.BrokerOrderID
	result.OrderStatus = ack.Status
	metrics.Order(string(result.Outcome), string(order.Side))
	e.logger.Info("order submitted",
		"key", key,
		"subject", order.Subject,
		"side", order.Side,
		"quantity", order.Quantity.String(),
		"broker_order_id", ack.BrokerOrderID,
		"status", ack.Status,
	)
	e.record(ctx, result)
	return result, nil
}

func (e *Executor) buildOrder(ctx context.Context, key string, decision *models.Decision, state *models.RunState) (*models.Order, []models.Position, models.AccountInfo, error) {
	price, err := retry.DoValue(ctx, e.policy, "reference price", func(ctx context.Context) (decimal.Decimal, error) {
		return e.prices.Price(ctx, state.Subject, state.AsOfDate)
	})
	if err != nil {
		return nil, nil, models.AccountInfo{}, fmt.Errorf("reference price: %w", err)
	}
	positions, err := retry.DoValue(ctx, e.policy, "broker positions", e.broker.Positions)
	if err != nil {
		return nil, nil, models.AccountInfo{}, fmt.Errorf("positions: %w", err)
	}
	account, err := retry.DoValue(ctx, e.policy, "broker account", e.broker.Account)
	if err != nil {
		return nil, nil, models.AccountInfo{}, fmt.Errorf("account: %w", err)
	}

	held := decimal.Zero
	for _, p := range positions {
		if p.Subject == state.Subject {
			held = held.Add(p.Quantity)
		}
	}
	qty, err := e.sizer.Size(ctx, decision, price, held, account)
	if err != nil {
		return nil, nil, models.AccountInfo{}, fmt.Errorf("size: %w", err)
	}
	if !qty.IsPositive() {
		return nil, positions, account, nil
	}

	side := models.SideBuy
	if decision.Direction == models.DirectionSell {
		side = models.SideSell
	}
	order := &models.Order{
		ClientOrderID:   key,
		Subject:         state.Subject,
		Side:            side,
		Quantity:        qty,
		Kind:            decision.OrderKind,
		ReferencePrice:  price,
		InstrumentClass: consts.ClassEquity,
	}
	if order.Kind == "" {
		order.Kind = models.OrderMarket
	}
	// prices ride along only on kinds that use them, so a market order is always
	// valued at the reference price
	if order.Kind.UsesLimit() {
		if decision.LimitPrice == nil || !decision.LimitPrice.IsPositive() {
			return nil, nil, models.AccountInfo{}, errs.Validation("build order", fmt.Errorf("%s order without a limit price", order.Kind))
		}
		order.LimitPrice = decision.LimitPrice
	}
	if order.Kind.UsesStop() {
		if decision.StopPrice == nil || !decision.StopPrice.IsPositive() {
			return nil, nil, models.AccountInfo{}, errs.Validation("build order", fmt.Errorf("%s order without a stop price", order.Kind))
		}
		order.StopPrice = decision.StopPrice
	}
	return order, positions, account, nil
}

// failed records a submit failure. The error handed back is transient whatever
// the cause, so callers can retry under the same key.
func (e *Executor) failed(ctx context.Context, result *models.ExecutionResult, side models.OrderSide, cause error) (*models.ExecutionResult, error) {
	result.Outcome = models.OutcomeSubmitFailed
	result.Error = cause.Error()
	metrics.Order(string(result.Outcome), string(side))
	e.logger.Error("order submission failed", "key", result.IdempotencyKey, "err", cause)
	e.record(ctx, result)
	return result, &errs.Error{
		Kind: errs.KindTransient,
		Code: errs.CodeBrokerUnavailable,
		Op:   "execute " + result.IdempotencyKey,
		Err:  cause,
	}
}

// record never fails the execution: the broker dedupes on the client order id, so
// a lost ledger row cannot turn into a second order.
func (e *Executor) record(ctx context.Context, result *models.ExecutionResult) {
	if err := e.ledger.Record(context.WithoutCancel(ctx), *result); err != nil {
		e.logger.Error("record execution failed", "key", result.IdempotencyKey, "err", err)
	}
}

// OpenLedger picks the ledger matching the checkpoint backend's durability.
func OpenLedger(cfg *config.Config) (Ledger, error) {
	if cfg.CheckpointBackend == consts.BackendMemory {
		return NewMemoryLedger(), nil
	}
	return OpenSQLiteLedger(filepath.Join(cfg.DataDir, "executions.db"))
}

// NewFromConfig wires an executor with the configured sizing fraction and ledger.
func NewFromConfig(cfg *config.Config, b broker.Broker, gate RiskValidator, prices PriceSource, logger *slog.Logger) (*Executor, error) {
	ledger, err := OpenLedger(cfg)
	if err != nil {
		return nil, fmt.Errorf("open execution ledger: %w", err)
	}
	return NewExecutor(b, gate, prices,
		WithSizer(NewFixedFractionSizer(cfg.PositionSizeFraction)),
		WithLedger(ledger),
		WithRetryPolicy(retry.FromConfig(cfg)),
		WithLogger(logger),
	), nil
}

// Close releases the ledger.
func (e *Executor) Close() error { return e.ledger.Close() }
