// Package marketdata fetches the price history, quotes and headlines that analyst
// stages read and that the executor prices orders with.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Bar is one daily candle.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Headline is one news item about a subject.
type Headline struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Source returns daily bars ending on or before end.
type Source interface {
	Name() string
	Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error)
}

// NewsSource returns headlines published within [from, to].
type NewsSource interface {
	Name() string
	News(ctx context.Context, symbol string, from, to time.Time) ([]Headline, error)
}

// ParseDate parses an as-of date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 12 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

// endOfDay makes a date range inclusive of the whole end day.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
