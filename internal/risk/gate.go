// Package risk validates proposed orders against portfolio and instrument rules.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/metrics"
	"github.com/dyike/cortexflow/models"
)

// Rule slots, in evaluation order.
const (
	RuleSanity    = 0
	RulePosition  = 1
	RulePortfolio = 2
	RuleBuying    = 3
	RuleClass     = 4
)

// SensitivityProvider supplies the per-unit price sensitivity (delta) of a
// derivative instrument. The gate does not price instruments itself.
type SensitivityProvider interface {
	Delta(ctx context.Context, order models.Order) (decimal.Decimal, error)
}

// SensitivityFunc adapts a function to SensitivityProvider.
type SensitivityFunc func(ctx context.Context, order models.Order) (decimal.Decimal, error)

func (f SensitivityFunc) Delta(ctx context.Context, order models.Order) (decimal.Decimal, error) {
	return f(ctx, order)
}

// Limits are the configured risk limits, as fractions of portfolio value.
type Limits struct {
	MaxPositionFraction    decimal.Decimal
	MaxPortfolioFraction   decimal.Decimal
	MarginRequirement      decimal.Decimal
	MaxSensitivityFraction decimal.Decimal
	EnabledClasses         []string
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxPositionFraction:    decimal.NewFromFloat(cfg.MaxPositionFraction),
		MaxPortfolioFraction:   decimal.NewFromFloat(cfg.MaxPortfolioFraction),
		MarginRequirement:      decimal.NewFromFloat(cfg.MarginRequirement),
		MaxSensitivityFraction: decimal.NewFromFloat(cfg.MaxSensitivityFraction),
		EnabledClasses:         append([]string(nil), cfg.EnabledInstrumentClasses...),
	}
}

func (l Limits) classEnabled(class string) bool {
	for _, c := range l.EnabledClasses {
		if c == class {
			return true
		}
	}
	return false
}

// Gate evaluates rules in a fixed order and rejects on the first failure.
type Gate struct {
	limits      Limits
	sensitivity SensitivityProvider
	logger      *slog.Logger
}

type Option func(*Gate)

func WithSensitivityProvider(p SensitivityProvider) Option {
	return func(g *Gate) { g.sensitivity = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGate(limits Limits, opts ...Option) *Gate {
	g := &Gate{limits: limits, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate never returns an error: every failure is a rejected verdict with a reason
// from the closed set in consts.
func (g *Gate) Validate(ctx context.Context, order models.Order, positions []models.Position, account models.AccountInfo) models.RiskVerdict {
	v := g.evaluate(ctx, order, positions, account)
	metrics.RiskVerdict(v.Accepted, v.Reason)
	if v.Accepted {
		g.logger.Info("order accepted by risk gate", "subject", order.Subject, "side", order.Side, "quantity", order.Quantity.String(), "value", order.Value().StringFixed(2))
	} else {
		g.logger.Warn("order rejected by risk gate", "subject", order.Subject, "side", order.Side, "reason", v.Reason, "rule", v.Rule, "detail", v.Detail)
	}
	return v
}

func (g *Gate) evaluate(ctx context.Context, order models.Order, positions []models.Position, account models.AccountInfo) models.RiskVerdict {
	if !order.Quantity.IsPositive() || !order.Price().IsPositive() {
		return reject(consts.RiskInvalidOrder, RuleSanity, "order quantity and price must be positive")
	}
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return reject(consts.RiskInvalidOrder, RuleSanity, fmt.Sprintf("unknown side %q", order.Side))
	}
	portfolio := account.PortfolioValue
	if !portfolio.IsPositive() {
		return reject(consts.RiskInvalidPortfolioValue, RuleSanity, "portfolio value must be positive")
	}

	held, existingQty := exposureOf(order.Subject, positions)
	after := held.Add(order.SignedValue())

	// (1) single-instrument exposure after the trade
	positionLimit := portfolio.Mul(g.limits.MaxPositionFraction)
	if after.Abs().GreaterThan(positionLimit) {
		v := reject(consts.RiskPositionLimitExceeded, RulePosition,
			fmt.Sprintf("exposure %s exceeds %s (%s of %s)",
				after.Abs().StringFixed(2), positionLimit.StringFixed(2),
				g.limits.MaxPositionFraction.String(), portfolio.StringFixed(2)))
		v.AdjustedQuantity = maxQuantity(order, held, positionLimit)
		return v
	}

	// (2) aggregate exposure after the trade
	gross := after.Abs()
	for _, p := range positions {
		if p.Subject != order.Subject {
			gross = gross.Add(p.MarketValue().Abs())
		}
	}
	portfolioLimit := portfolio.Mul(g.limits.MaxPortfolioFraction)
	if gross.GreaterThan(portfolioLimit) {
		return reject(consts.RiskPortfolioLimitExceeded, RulePortfolio,
			fmt.Sprintf("gross exposure %s exceeds %s", gross.StringFixed(2), portfolioLimit.StringFixed(2)))
	}

	// (3) buys consume cash
	if order.Side == models.SideBuy && order.Value().GreaterThan(account.BuyingPower) {
		return reject(consts.RiskInsufficientBuyingPower, RuleBuying,
			fmt.Sprintf("order value %s exceeds buying power %s", order.Value().StringFixed(2), account.BuyingPower.StringFixed(2)))
	}

	// (4) instrument class rules
	class := classOf(order, existingQty)
	if !g.limits.classEnabled(class) {
		return reject(consts.RiskInstrumentClassDisabled, RuleClass, fmt.Sprintf("instrument class %s is not enabled", class))
	}
	switch class {
	case consts.ClassShort:
		opened := order.Quantity.Sub(decimal.Max(existingQty, decimal.Zero))
		shortValue := opened.Mul(order.Price()).Mul(order.ContractMultiplier())
		required := shortValue.Mul(g.limits.MarginRequirement)
		if required.GreaterThan(account.BuyingPower) {
			return reject(consts.RiskInsufficientMargin, RuleClass,
				fmt.Sprintf("margin %s exceeds buying power %s", required.StringFixed(2), account.BuyingPower.StringFixed(2)))
		}
	case consts.ClassOption:
		if g.sensitivity == nil {
			return reject(consts.RiskSensitivityUnavailable, RuleClass, "no sensitivity provider configured")
		}
		delta, err := g.sensitivity.Delta(ctx, order)
		if err != nil {
			return reject(consts.RiskSensitivityUnavailable, RuleClass, err.Error())
		}
		exposure := delta.Mul(order.Quantity).Mul(order.ContractMultiplier()).Mul(order.Price()).Abs()
		limit := portfolio.Mul(g.limits.MaxSensitivityFraction)
		if exposure.GreaterThan(limit) {
			return reject(consts.RiskSensitivityExceeded, RuleClass,
				fmt.Sprintf("delta exposure %s exceeds %s", exposure.StringFixed(2), limit.StringFixed(2)))
		}
	}

	return models.RiskVerdict{Accepted: true}
}

func reject(reason string, rule int, detail string) models.RiskVerdict {
	return models.RiskVerdict{Accepted: false, Reason: reason, Rule: rule, Detail: detail}
}

// exposureOf returns the signed market value and quantity held in subject.
func exposureOf(subject string, positions []models.Position) (decimal.Decimal, decimal.Decimal) {
	value, qty := decimal.Zero, decimal.Zero
	for _, p := range positions {
		if p.Subject == subject {
			value = value.Add(p.MarketValue())
			qty = qty.Add(p.Quantity)
		}
	}
	return value, qty
}

// classOf treats a sell beyond the held quantity of an equity as a short sale.
func classOf(order models.Order, existingQty decimal.Decimal) string {
	class := order.InstrumentClass
	if class == "" {
		class = consts.ClassEquity
	}
	if class == consts.ClassEquity && order.Side == models.SideSell && order.Quantity.GreaterThan(existingQty) {
		return consts.ClassShort
	}
	return class
}

// maxQuantity is the largest whole quantity that keeps the position within limit,
// or nil when none does.
func maxQuantity(order models.Order, held, limit decimal.Decimal) *decimal.Decimal {
	unit := order.Price().Mul(order.ContractMultiplier())
	if !unit.IsPositive() {
		return nil
	}
	headroom := limit.Sub(held)
	if order.Side == models.SideSell {
		headroom = limit.Add(held)
	}
	q := headroom.Div(unit).Floor()
	if !q.IsPositive() {
		return nil
	}
	return &q
}
