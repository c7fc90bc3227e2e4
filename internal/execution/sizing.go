package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// Sizer turns a decision into an order quantity.
type Sizer interface {
	Size(ctx context.Context, decision *models.Decision, price decimal.Decimal, held decimal.Decimal, account models.AccountInfo) (decimal.Decimal, error)
}

// FixedFractionSizer buys a fixed fraction of portfolio value in whole units and
// sells the whole holding. A quantity hint in the decision caps the result.
type FixedFractionSizer struct {
	Fraction decimal.Decimal
}

func NewFixedFractionSizer(fraction float64) FixedFractionSizer {
	return FixedFractionSizer{Fraction: decimal.NewFromFloat(fraction)}
}

func (s FixedFractionSizer) Size(ctx context.Context, decision *models.Decision, price decimal.Decimal, held decimal.Decimal, account models.AccountInfo) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, errs.Validation("size order", fmt.Errorf("price must be positive, got %s", price))
	}

	var qty decimal.Decimal
	switch {
	case decision.Direction == models.DirectionSell && held.IsPositive():
		qty = held
	default:
		qty = account.PortfolioValue.Mul(s.Fraction).Div(price).Floor()
	}

	if decision.Quantity != nil && decision.Quantity.IsPositive() && decision.Quantity.LessThan(qty) {
		qty = decision.Quantity.Floor()
	}
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	return qty, nil
}
