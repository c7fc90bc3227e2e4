package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var csvHeader = []string{"Date", "Open", "High", "Low", "Close", "Volume"}

// CSVCache keeps fetched bars on disk under dir/csv/market/SYMBOL. Only windows
// ending before today are cached; those bars no longer change.
type CSVCache struct {
	inner  Source
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewCSVCache(inner Source, dir string, logger *slog.Logger) *CSVCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVCache{inner: inner, dir: dir, logger: logger, now: time.Now}
}

func (c *CSVCache) Name() string { return c.inner.Name() }

func (c *CSVCache) Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error) {
	symbol = NormalizeSymbol(symbol)
	if !c.cacheable(end) {
		return c.inner.Bars(ctx, symbol, end, days)
	}
	path := c.path(symbol, end, days)
	if bars, err := readBarsCSV(path); err == nil {
		c.logger.Debug("bars from csv cache", "symbol", symbol, "file", filepath.Base(path))
		return bars, nil
	} else if !os.IsNotExist(err) {
		c.logger.Warn("unreadable csv cache", "file", path, "error", err)
	}

	bars, err := c.inner.Bars(ctx, symbol, end, days)
	if err != nil || len(bars) == 0 {
		return bars, err
	}
	if err := writeBarsCSV(path, bars); err != nil {
		c.logger.Warn("write csv cache", "file", path, "error", err)
	}
	return bars, nil
}

func (c *CSVCache) cacheable(end time.Time) bool {
	y, m, d := c.now().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, end.Location())
	return end.Before(today)
}

func (c *CSVCache) path(symbol string, end time.Time, days int) string {
	name := fmt.Sprintf("%s_%s_%dd.csv", symbol, end.Format("20060102"), days)
	return filepath.Join(c.dir, "csv", "market", symbol, name)
}

func writeBarsCSV(path string, bars []Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "bars-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(csvHeader)
	for _, b := range bars {
		_ = w.Write([]string{
			b.Date.Format(dateLayout),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			strconv.FormatInt(b.Volume, 10),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readBarsCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, fmt.Errorf("no rows in %s", path)
	}
	bars := make([]Bar, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("row %d: want %d columns, got %d", i+1, len(csvHeader), len(rec))
		}
		date, err := time.Parse(dateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		var prices [4]decimal.Decimal
		for j := range prices {
			if prices[j], err = decimal.NewFromString(rec[j+1]); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		volume, err := strconv.ParseInt(rec[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   prices[0],
			High:   prices[1],
			Low:    prices[2],
			Close:  prices[3],
			Volume: volume,
		})
	}
	return bars, nil
}
