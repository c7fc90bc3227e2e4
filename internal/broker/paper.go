package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

type paperOrder struct {
	id     string
	order  models.Order
	status models.OrderStatus
	placed time.Time
}

// PaperBroker simulates execution in memory. Market orders fill at the order's
// reference price; limit and stop orders fill only when marketable at that price
// and otherwise stay pending.
type PaperBroker struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*models.Position
	orders    map[string]*paperOrder // by broker id
	byClient  map[string]string      // client order id -> broker id
	submits   int
}

func NewPaperBroker(cash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		cash:      cash,
		positions: make(map[string]*models.Position),
		orders:    make(map[string]*paperOrder),
		byClient:  make(map[string]string),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// SetPosition seeds a holding.
func (p *PaperBroker) SetPosition(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := pos
	p.positions[pos.Subject] = &cp
}

// Submissions counts orders that reached the book, replays excluded.
func (p *PaperBroker) Submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func (p *PaperBroker) SubmitOrder(ctx context.Context, order models.Order) (models.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return models.SubmitResult{}, err
	}
	if !order.Quantity.IsPositive() {
		return models.SubmitResult{}, errs.Validation("paper submit", fmt.Errorf("quantity must be > 0"))
	}
	if !order.ReferencePrice.IsPositive() {
		return models.SubmitResult{}, errs.Validation("paper submit", fmt.Errorf("reference price must be > 0"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if order.ClientOrderID != "" {
		if id, ok := p.byClient[order.ClientOrderID]; ok {
			po := p.orders[id]
			return models.SubmitResult{Accepted: true, BrokerOrderID: po.id, Status: po.status}, nil
		}
	}

	po := &paperOrder{id: uuid.New().String(), order: order, status: models.OrderPending, placed: time.Now().UTC()}
	if fillPrice, ok := marketable(order); ok {
		p.fill(order, fillPrice)
		po.status = models.OrderFilled
	}
	p.orders[po.id] = po
	if order.ClientOrderID != "" {
		p.byClient[order.ClientOrderID] = po.id
	}
	p.submits++
	return models.SubmitResult{Accepted: true, BrokerOrderID: po.id, Status: po.status}, nil
}

// marketable reports whether the order fills at its reference price, and at what
// price.
func marketable(o models.Order) (decimal.Decimal, bool) {
	ref := o.ReferencePrice
	buy := o.Side == models.SideBuy
	switch o.Kind {
	case models.OrderLimit:
		if o.LimitPrice == nil {
			return ref, true
		}
		if (buy && ref.LessThanOrEqual(*o.LimitPrice)) || (!buy && ref.GreaterThanOrEqual(*o.LimitPrice)) {
			return ref, true
		}
		return decimal.Zero, false
	case models.OrderStop, models.OrderStopLimit:
		if o.StopPrice == nil {
			return ref, true
		}
		triggered := (buy && ref.GreaterThanOrEqual(*o.StopPrice)) || (!buy && ref.LessThanOrEqual(*o.StopPrice))
		if !triggered {
			return decimal.Zero, false
		}
		if o.Kind == models.OrderStopLimit && o.LimitPrice != nil {
			if (buy && ref.GreaterThan(*o.LimitPrice)) || (!buy && ref.LessThan(*o.LimitPrice)) {
				return decimal.Zero, false
			}
		}
		return ref, true
	default:
		return ref, true
	}
}

func (p *PaperBroker) fill(o models.Order, price decimal.Decimal) {
	qty := o.Quantity
	notional := qty.Mul(price).Mul(o.ContractMultiplier())
	if o.Side == models.SideSell {
		qty = qty.Neg()
		p.cash = p.cash.Add(notional)
	} else {
		p.cash = p.cash.Sub(notional)
	}

	pos, ok := p.positions[o.Subject]
	if !ok {
		pos = &models.Position{Subject: o.Subject, InstrumentClass: o.InstrumentClass}
		p.positions[o.Subject] = pos
	}
	newQty := pos.Quantity.Add(qty)
	switch {
	case newQty.IsZero():
		pos.AverageCost = decimal.Zero
	case pos.Quantity.IsZero() || pos.Quantity.Sign() != newQty.Sign():
		pos.AverageCost = price
	case pos.Quantity.Sign() == qty.Sign():
		// adding to the position
		cost := pos.Quantity.Mul(pos.AverageCost).Add(qty.Mul(price))
		pos.AverageCost = cost.Div(newQty)
	}
	pos.Quantity = newQty
	pos.CurrentPrice = price
	if newQty.IsZero() {
		delete(p.positions, o.Subject)
	}
}

func (p *PaperBroker) Positions(ctx context.Context) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *PaperBroker) Account(ctx context.Context) (models.AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value := p.cash
	for _, pos := range p.positions {
		value = value.Add(pos.MarketValue())
	}
	buyingPower := p.cash
	if buyingPower.IsNegative() {
		buyingPower = decimal.Zero
	}
	return models.AccountInfo{PortfolioValue: value, Cash: p.cash, BuyingPower: buyingPower}, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[brokerOrderID]
	if !ok || po.status != models.OrderPending {
		return false, nil
	}
	po.status = models.OrderCancelled
	return true, nil
}

// Status returns the current status of a paper order.
func (p *PaperBroker) Status(brokerOrderID string) (models.OrderStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	po, ok := p.orders[brokerOrderID]
	if !ok {
		return "", false
	}
	return po.status, true
}
