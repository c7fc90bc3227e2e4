package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/logging"
	"github.com/dyike/cortexflow/models"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func testLimits() Limits {
	return Limits{
		MaxPositionFraction:    d(0.10),
		MaxPortfolioFraction:   d(1.0),
		MarginRequirement:      d(0.5),
		MaxSensitivityFraction: d(0.05),
		EnabledClasses:         []string{consts.ClassEquity, consts.ClassShort, consts.ClassOption},
	}
}

func account(portfolio, buyingPower float64) models.AccountInfo {
	return models.AccountInfo{PortfolioValue: d(portfolio), Cash: d(buyingPower), BuyingPower: d(buyingPower)}
}

func buy(subject string, qty, price float64) models.Order {
	return models.Order{Subject: subject, Side: models.SideBuy, Quantity: d(qty), Kind: models.OrderMarket, ReferencePrice: d(price)}
}

func sell(subject string, qty, price float64) models.Order {
	o := buy(subject, qty, price)
	o.Side = models.SideSell
	return o
}

func newGate(opts ...Option) *Gate {
	return NewGate(testLimits(), append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestGate_PositionLimitScenario(t *testing.T) {
	g := newGate()
	acct := account(100000, 100000)

	v := g.Validate(context.Background(), buy("AAPL", 120, 100), nil, acct)
	assert.False(t, v.Accepted)
	assert.Equal(t, consts.RiskPositionLimitExceeded, v.Reason)
	assert.Equal(t, RulePosition, v.Rule)
	require.NotNil(t, v.AdjustedQuantity)
	assert.True(t, v.AdjustedQuantity.Equal(d(100)), v.AdjustedQuantity.String())

	v = g.Validate(context.Background(), buy("AAPL", 80, 100), nil, acct)
	assert.True(t, v.Accepted)
	assert.Empty(t, v.Reason)
}

func TestGate_Rules(t *testing.T) {
	limitPrice := d(50)
	limitOrder := buy("MSFT", 100, 100)
	limitOrder.Kind = models.OrderLimit
	limitOrder.LimitPrice = &limitPrice

	tests := []struct {
		name      string
		limits    func(*Limits)
		order     models.Order
		positions []models.Position
		account   models.AccountInfo
		accepted  bool
		reason    string
		rule      int
	}{
		{
			name:    "zero quantity",
			order:   buy("AAPL", 0, 100),
			account: account(100000, 100000),
			reason:  consts.RiskInvalidOrder,
			rule:    RuleSanity,
		},
		{
			name:    "non-positive portfolio",
			order:   buy("AAPL", 1, 100),
			account: account(0, 100000),
			reason:  consts.RiskInvalidPortfolioValue,
			rule:    RuleSanity,
		},
		{
			name:      "existing position counts",
			order:     buy("AAPL", 30, 100),
			positions: []models.Position{{Subject: "AAPL", Quantity: d(80), CurrentPrice: d(100)}},
			account:   account(100000, 100000),
			reason:    consts.RiskPositionLimitExceeded,
			rule:      RulePosition,
		},
		{
			name:      "selling down a position is fine",
			order:     sell("AAPL", 50, 100),
			positions: []models.Position{{Subject: "AAPL", Quantity: d(150), CurrentPrice: d(100)}},
			account:   account(100000, 0),
			accepted:  true,
		},
		{
			name:     "limit price values the order",
			order:    limitOrder,
			account:  account(100000, 100000),
			accepted: true,
		},
		{
			name:   "aggregate ceiling",
			limits: func(l *Limits) { l.MaxPortfolioFraction = d(0.5) },
			order:  buy("AAPL", 50, 100),
			positions: []models.Position{
				{Subject: "MSFT", Quantity: d(310), CurrentPrice: d(100)},
				{Subject: "TSLA", Quantity: d(-150), CurrentPrice: d(100)},
			},
			account: account(100000, 100000),
			reason:  consts.RiskPortfolioLimitExceeded,
			rule:    RulePortfolio,
		},
		{
			name:    "buying power",
			order:   buy("AAPL", 50, 100),
			account: account(100000, 4000),
			reason:  consts.RiskInsufficientBuyingPower,
			rule:    RuleBuying,
		},
		{
			name:    "short sale needs margin",
			order:   sell("AAPL", 50, 100),
			account: account(100000, 2000),
			reason:  consts.RiskInsufficientMargin,
			rule:    RuleClass,
		},
		{
			name:     "short sale with margin",
			order:    sell("AAPL", 50, 100),
			account:  account(100000, 2500),
			accepted: true,
		},
		{
			name:    "short class disabled",
			limits:  func(l *Limits) { l.EnabledClasses = []string{consts.ClassEquity} },
			order:   sell("AAPL", 50, 100),
			account: account(100000, 100000),
			reason:  consts.RiskInstrumentClassDisabled,
			rule:    RuleClass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := testLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			g := NewGate(limits, WithLogger(logging.Discard()))
			v := g.Validate(context.Background(), tt.order, tt.positions, tt.account)
			assert.Equal(t, tt.accepted, v.Accepted, v.Detail)
			assert.Equal(t, tt.reason, v.Reason)
			if !tt.accepted {
				assert.Equal(t, tt.rule, v.Rule)
				assert.NotEmpty(t, v.Detail)
			}
		})
	}
}

func TestGate_FirstFailingRuleWins(t *testing.T) {
	// violates the position limit and buying power; the position rule comes first
	v := newGate().Validate(context.Background(), buy("AAPL", 200, 100), nil, account(100000, 100))
	assert.Equal(t, consts.RiskPositionLimitExceeded, v.Reason)
}

func option(qty float64) models.Order {
	o := buy("AAPL250321C00200000", qty, 5)
	o.InstrumentClass = consts.ClassOption
	o.Multiplier = d(100)
	return o
}

func TestGate_OptionSensitivity(t *testing.T) {
	acct := account(100000, 100000)

	v := newGate().Validate(context.Background(), option(2), nil, acct)
	assert.Equal(t, consts.RiskSensitivityUnavailable, v.Reason)

	failing := SensitivityFunc(func(ctx context.Context, o models.Order) (decimal.Decimal, error) {
		return decimal.Zero, errors.New("pricing service down")
	})
	v = newGate(WithSensitivityProvider(failing)).Validate(context.Background(), option(2), nil, acct)
	assert.Equal(t, consts.RiskSensitivityUnavailable, v.Reason)

	delta := SensitivityFunc(func(ctx context.Context, o models.Order) (decimal.Decimal, error) {
		return d(0.6), nil
	})
	// 0.6 * 10 * 100 * 5 = 3000 <= 5000
	v = newGate(WithSensitivityProvider(delta)).Validate(context.Background(), option(10), nil, acct)
	assert.True(t, v.Accepted, v.Detail)

	// 0.6 * 19 * 100 * 5 = 5700 > 5000, value 9500 is within the position limit
	v = newGate(WithSensitivityProvider(delta)).Validate(context.Background(), option(19), nil, acct)
	assert.Equal(t, consts.RiskSensitivityExceeded, v.Reason)

	limits := testLimits()
	limits.EnabledClasses = []string{consts.ClassEquity}
	v = NewGate(limits, WithSensitivityProvider(delta), WithLogger(logging.Discard())).
		Validate(context.Background(), option(1), nil, acct)
	assert.Equal(t, consts.RiskInstrumentClassDisabled, v.Reason)
}

func TestGate_Deterministic(t *testing.T) {
	g := newGate()
	order := buy("AAPL", 120, 100)
	first := g.Validate(context.Background(), order, nil, account(100000, 100000))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, g.Validate(context.Background(), order, nil, account(100000, 100000)))
	}
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	l := LimitsFromConfig(cfg)
	assert.True(t, l.MaxPositionFraction.Equal(d(cfg.MaxPositionFraction)))
	assert.True(t, l.classEnabled(consts.ClassEquity))
	assert.False(t, l.classEnabled(consts.ClassOption))
}
