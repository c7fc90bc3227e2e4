package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/cortexflow/internal/errs"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubNews reads company news from Finnhub.
type FinnhubNews struct {
	client *resty.Client
	apiKey string
}

type finnhubArticle struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// NewFinnhubNews creates a client; baseURL may be empty for the public endpoint.
func NewFinnhubNews(apiKey, baseURL string) *FinnhubNews {
	if baseURL == "" {
		baseURL = finnhubBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	return &FinnhubNews{client: client, apiKey: apiKey}
}

func (f *FinnhubNews) Name() string { return "finnhub" }

func (f *FinnhubNews) News(ctx context.Context, symbol string, from, to time.Time) ([]Headline, error) {
	if f.apiKey == "" {
		return nil, errs.Validation("finnhub news", fmt.Errorf("finnhub API key not configured"))
	}
	symbol = NormalizeSymbol(symbol)
	if err := validateSymbol(symbol); err != nil {
		return nil, errs.Validation("finnhub news", err)
	}

	var articles []finnhubArticle
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   from.Format(dateLayout),
			"to":     to.Format(dateLayout),
			"token":  f.apiKey,
		}).
		SetResult(&articles).
		Get("/company-news")
	if err != nil {
		return nil, errs.Transient("finnhub news", fmt.Errorf("fetch news for %s: %w", symbol, err))
	}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return nil, errs.Transient("finnhub news", fmt.Errorf("API error %d", resp.StatusCode()))
	case resp.StatusCode() != http.StatusOK:
		return nil, errs.Fatalf(errs.CodeInvalidRequest, "finnhub news", "API error %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]Headline, 0, len(articles))
	for _, a := range articles {
		out = append(out, Headline{
			Title:       a.Headline,
			Summary:     a.Summary,
			Source:      a.Source,
			URL:         a.URL,
			PublishedAt: time.Unix(a.DateTime, 0).UTC(),
		})
	}
	return out, nil
}
