package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/errs"
)

// LongportSource reads daily candlesticks from the Longport quote API.
type LongportSource struct {
	quoteCtx *quote.QuoteContext
}

func NewLongportSource(cfg *config.Config) (*LongportSource, error) {
	if cfg.LongportAppKey == "" || cfg.LongportAppSecret == "" || cfg.LongportAccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}
	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}
	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportSource{quoteCtx: quoteContext}, nil
}

func (l *LongportSource) Name() string { return "longport" }

// Bars fetches the daily candles of the calendar window ending at end and keeps the
// last days of them, so backdated runs see the same history a live run would have.
// Longport symbols carry a market suffix; a bare ticker is treated as US.
func (l *LongportSource) Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateSymbol(symbol); err != nil {
		return nil, errs.Validation("longport bars", err)
	}
	if !hasMarketSuffix(symbol) {
		symbol += ".US"
	}

	cutoff := endOfDay(end)
	from, to := historyWindow(end, days)
	sticks, err := l.quoteCtx.HistoryCandlesticksByDate(ctx, symbol, quote.PeriodDay, quote.AdjustTypeNo, &from, &to)
	if err != nil {
		return nil, errs.Transient("longport bars", fmt.Errorf("candlesticks %s: %w", symbol, err))
	}

	bars := make([]Bar, 0, len(sticks))
	for _, stick := range sticks {
		ts := time.Unix(stick.Timestamp, 0).UTC()
		if ts.After(cutoff) {
			continue
		}
		bars = append(bars, Bar{
			Date:   ts,
			Open:   toDecimal(stick.Open),
			High:   toDecimal(stick.High),
			Low:    toDecimal(stick.Low),
			Close:  toDecimal(stick.Close),
			Volume: stick.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if days > 0 && len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// historyWindow widens days of trading history into a calendar range that covers
// weekends and exchange holidays.
func historyWindow(end time.Time, days int) (from, to time.Time) {
	end = end.UTC()
	to = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	span := days*7/5 + 10
	return to.AddDate(0, 0, -span), to
}

func (l *LongportSource) Close() {
	if l.quoteCtx != nil {
		l.quoteCtx.Close()
	}
}

func hasMarketSuffix(symbol string) bool {
	for i := len(symbol) - 1; i > 0; i-- {
		if symbol[i] == '.' {
			return true
		}
	}
	return false
}

func toDecimal(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
