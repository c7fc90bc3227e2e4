package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/internal/errs"
)

// YahooSource reads Yahoo Finance charts through finance-go.
type YahooSource struct{}

func NewYahooSource() *YahooSource { return &YahooSource{} }

func (y *YahooSource) Name() string { return "yahoo" }

func (y *YahooSource) Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateSymbol(symbol); err != nil {
		return nil, errs.Validation("yahoo bars", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := end.AddDate(0, 0, -days)
	stop := endOfDay(end)
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&stop),
		Interval: datetime.OneDay,
	})

	var bars []Bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, Bar{
			Date:   time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Transient("yahoo bars", fmt.Errorf("chart %s: %w", symbol, err))
	}
	return bars, nil
}

// Quote returns the regular market price.
func (y *YahooSource) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	q, err := quote.Get(symbol)
	if err != nil {
		return decimal.Zero, errs.Transient("yahoo quote", fmt.Errorf("quote %s: %w", symbol, err))
	}
	if q == nil {
		return decimal.Zero, errs.Validation("yahoo quote", fmt.Errorf("no quote for %s", symbol))
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}
