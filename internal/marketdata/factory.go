package marketdata

import (
	"fmt"
	"log/slog"

	"github.com/dyike/cortexflow/config"
)

// NewSource builds the configured price source.
func NewSource(cfg *config.Config) (Source, error) {
	switch cfg.PriceSource {
	case "", "yahoo":
		return NewYahooSource(), nil
	case "longport":
		return NewLongportSource(cfg)
	case "static":
		return NewStaticSource(), nil
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.PriceSource)
	}
}

// NewProviderFromConfig wires the price source and, when a Finnhub key is set, the
// news source. Remote sources are fronted by the CSV cache in DataCacheDir.
func NewProviderFromConfig(cfg *config.Config, logger *slog.Logger) (*Provider, error) {
	source, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	if _, static := source.(*StaticSource); !static && cfg.DataCacheDir != "" {
		source = NewCSVCache(source, cfg.DataCacheDir, logger)
	}
	opts := []ProviderOption{WithProviderLogger(logger)}
	if cfg.FinnhubAPIKey != "" {
		opts = append(opts, WithNewsSource(NewFinnhubNews(cfg.FinnhubAPIKey, "")))
	}
	return NewProvider(source, opts...)
}
