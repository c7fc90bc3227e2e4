package marketdata

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/internal/errs"
)

func risingBars(n int, start time.Time) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		c := decimal.NewFromInt(int64(100 + i))
		bars[i] = Bar{Date: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

type countingSource struct {
	*StaticSource
	calls int
}

func (c *countingSource) Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error) {
	c.calls++
	return c.StaticSource.Bars(ctx, symbol, end, days)
}

func TestProvider_SnapshotIsCachedAndStable(t *testing.T) {
	static := NewStaticSource()
	static.SetBars("AAPL", risingBars(30, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
	src := &countingSource{StaticSource: static}

	p, err := NewProvider(src, WithLookbackDays(60))
	require.NoError(t, err)

	snap, err := p.Snapshot(context.Background(), "aapl", "2025-02-26")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Len(t, snap.Bars, 26)
	last, ok := snap.Last()
	require.True(t, ok)
	assert.True(t, last.Close.Equal(decimal.NewFromInt(125)))
	assert.Equal(t, "static/bars", snap.Ref.Source)
	assert.NotEmpty(t, snap.Ref.ID)

	again, err := p.Snapshot(context.Background(), "AAPL", "2025-02-26")
	require.NoError(t, err)
	assert.Same(t, snap, again)
	assert.Equal(t, 1, src.calls)

	// lineage ids do not depend on the cache
	fresh, err := NewProvider(static, WithLookbackDays(60))
	require.NoError(t, err)
	other, err := fresh.Snapshot(context.Background(), "AAPL", "2025-02-26")
	require.NoError(t, err)
	assert.Equal(t, snap.Ref.ID, other.Ref.ID)

	assert.Contains(t, snap.Summary(), "| 2025-02-26 |")
}

func TestProvider_Price(t *testing.T) {
	static := NewStaticSource()
	static.SetBars("MSFT", risingBars(5, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)))
	p, err := NewProvider(static)
	require.NoError(t, err)

	price, err := p.Price(context.Background(), "MSFT", "2025-02-22")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(102)), price.String())

	_, err = p.Price(context.Background(), "MSFT", "2025-01-01")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	_, err = p.Price(context.Background(), "MSFT", "not-a-date")
	assert.True(t, errs.IsValidation(err))
}

func TestProvider_NewsWithoutSource(t *testing.T) {
	p, err := NewProvider(NewStaticSource())
	require.NoError(t, err)
	news, ref, err := p.News(context.Background(), "AAPL", "2025-02-26")
	require.NoError(t, err)
	assert.Empty(t, news)
	assert.Empty(t, ref.ID)
}

func TestComputeIndicators(t *testing.T) {
	ind := ComputeIndicators(risingBars(60, time.Now()))
	// closes 100..159
	assert.InDelta(t, 134.5, ind.SMA50, 1e-9)
	assert.True(t, math.IsNaN(ind.SMA200))
	assert.InDelta(t, 100.0, ind.RSI14, 1e-9)
	assert.Greater(t, ind.MACD, 0.0)
	assert.Greater(t, ind.BollUp, ind.BollDown)

	empty := ComputeIndicators(nil)
	assert.True(t, math.IsNaN(empty.EMA10))
}

func TestFinnhubNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/company-news", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "2025-02-19", r.URL.Query().Get("from"))
		assert.Equal(t, "k", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"headline":"Apple beats","summary":"Strong quarter","source":"Reuters","datetime":1740528000,"url":"https://example.com/a"}]`))
	}))
	defer srv.Close()

	static := NewStaticSource()
	p, err := NewProvider(static, WithNewsSource(NewFinnhubNews("k", srv.URL)))
	require.NoError(t, err)

	news, ref, err := p.News(context.Background(), "aapl", "2025-02-26")
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "Apple beats", news[0].Title)
	assert.Equal(t, "finnhub/news", ref.Source)
}

func TestFinnhubNews_ClassifiesFailures(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	f := NewFinnhubNews("k", srv.URL)
	from := time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC)
	_, err := f.News(context.Background(), "AAPL", from, from.AddDate(0, 0, 7))
	assert.True(t, errs.IsTransient(err))

	status = http.StatusForbidden
	_, err = f.News(context.Background(), "AAPL", from, from.AddDate(0, 0, 7))
	assert.True(t, errs.IsFatal(err))

	_, err = NewFinnhubNews("", srv.URL).News(context.Background(), "AAPL", from, from)
	assert.True(t, errs.IsValidation(err))
}

func TestHistoryWindowEndsAtRunDate(t *testing.T) {
	end := time.Date(2023, 3, 15, 20, 30, 0, 0, time.UTC)
	from, to := historyWindow(end, 30)

	assert.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), to)
	assert.True(t, from.Before(to))
	// 30 trading days need at least six calendar weeks
	assert.GreaterOrEqual(t, to.Sub(from), 42*24*time.Hour)
}
