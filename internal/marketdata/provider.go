package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

const (
	defaultLookbackDays = 300
	defaultNewsDays     = 7
	defaultCacheSize    = 256
)

// Snapshot is the market data of one subject as of one date.
type Snapshot struct {
	Symbol     string            `json:"symbol"`
	AsOfDate   string            `json:"as_of_date"`
	Bars       []Bar             `json:"bars"`
	Indicators Indicators        `json:"indicators"`
	Ref        models.LineageRef `json:"ref"`
}

// Last returns the most recent bar.
func (s *Snapshot) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Summary renders the snapshot as prompt context.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market data for %s as of %s (%d daily bars).\n", s.Symbol, s.AsOfDate, len(s.Bars))
	start := len(s.Bars) - 10
	if start < 0 {
		start = 0
	}
	b.WriteString("| date | open | high | low | close | volume |\n|---|---|---|---|---|---|\n")
	for _, bar := range s.Bars[start:] {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d |\n",
			bar.Date.Format(dateLayout),
			bar.Open.StringFixed(2), bar.High.StringFixed(2), bar.Low.StringFixed(2), bar.Close.StringFixed(2),
			bar.Volume)
	}
	ind := s.Indicators
	b.WriteString("\nIndicators:\n")
	for _, kv := range []struct {
		name  string
		value float64
	}{
		{"close_10_ema", ind.EMA10},
		{"close_50_sma", ind.SMA50},
		{"close_200_sma", ind.SMA200},
		{"rsi", ind.RSI14},
		{"macd", ind.MACD},
		{"boll_ub", ind.BollUp},
		{"boll_lb", ind.BollDown},
	} {
		if math.IsNaN(kv.value) {
			fmt.Fprintf(&b, "- %s: n/a\n", kv.name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %.2f\n", kv.name, kv.value)
	}
	return b.String()
}

// Provider caches snapshots per subject and date and tags every record with a
// stable lineage reference.
type Provider struct {
	source   Source
	news     NewsSource
	cache    *lru.Cache[string, *Snapshot]
	lookback int
	logger   *slog.Logger
}

type ProviderOption func(*Provider)

func WithNewsSource(news NewsSource) ProviderOption {
	return func(p *Provider) { p.news = news }
}

func WithLookbackDays(days int) ProviderOption {
	return func(p *Provider) {
		if days > 0 {
			p.lookback = days
		}
	}
}

func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProvider(source Source, opts ...ProviderOption) (*Provider, error) {
	if source == nil {
		return nil, fmt.Errorf("market data source is nil")
	}
	cache, err := lru.New[string, *Snapshot](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	p := &Provider{source: source, cache: cache, lookback: defaultLookbackDays, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) SourceName() string { return p.source.Name() }

func (p *Provider) Snapshot(ctx context.Context, symbol, asOfDate string) (*Snapshot, error) {
	symbol = NormalizeSymbol(symbol)
	key := symbol + "@" + asOfDate
	if snap, ok := p.cache.Get(key); ok {
		return snap, nil
	}

	end, err := ParseDate(asOfDate)
	if err != nil {
		return nil, errs.Validation("snapshot", err)
	}
	bars, err := p.source.Bars(ctx, symbol, end, p.lookback)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, errs.Validation("snapshot", fmt.Errorf("no bars for %s up to %s", symbol, asOfDate))
	}

	snap := &Snapshot{
		Symbol:     symbol,
		AsOfDate:   asOfDate,
		Bars:       bars,
		Indicators: ComputeIndicators(bars),
		Ref:        lineageRef(p.source.Name(), "bars", symbol, asOfDate),
	}
	p.cache.Add(key, snap)
	p.logger.Debug("market snapshot loaded", "symbol", symbol, "as_of", asOfDate, "bars", len(bars), "source", p.source.Name())
	return snap, nil
}

// News returns the week of headlines before asOfDate. Without a news source it
// returns no headlines and no error.
func (p *Provider) News(ctx context.Context, symbol, asOfDate string) ([]Headline, models.LineageRef, error) {
	if p.news == nil {
		return nil, models.LineageRef{}, nil
	}
	symbol = NormalizeSymbol(symbol)
	end, err := ParseDate(asOfDate)
	if err != nil {
		return nil, models.LineageRef{}, errs.Validation("news", err)
	}
	headlines, err := p.news.News(ctx, symbol, end.AddDate(0, 0, -defaultNewsDays), end)
	if err != nil {
		return nil, models.LineageRef{}, err
	}
	return headlines, lineageRef(p.news.Name(), "news", symbol, asOfDate), nil
}

// Price is the reference price used to value orders: the last close on or before
// asOfDate.
func (p *Provider) Price(ctx context.Context, symbol, asOfDate string) (decimal.Decimal, error) {
	snap, err := p.Snapshot(ctx, symbol, asOfDate)
	if err != nil {
		return decimal.Zero, err
	}
	last, _ := snap.Last()
	if !last.Close.IsPositive() {
		return decimal.Zero, errs.Validation("price", fmt.Errorf("non-positive close for %s", symbol))
	}
	return last.Close, nil
}

func lineageRef(source, kind, symbol, asOfDate string) models.LineageRef {
	name := strings.Join([]string{source, kind, symbol, asOfDate}, ":")
	return models.LineageRef{
		Source: source + "/" + kind,
		ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(),
	}
}
