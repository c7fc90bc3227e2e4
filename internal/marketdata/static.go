package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StaticSource serves bars and headlines loaded in memory. It backs paper runs and
// tests.
type StaticSource struct {
	mu   sync.RWMutex
	bars map[string][]Bar
	news map[string][]Headline
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		bars: make(map[string][]Bar),
		news: make(map[string][]Headline),
	}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) SetBars(symbol string, bars []Bar) {
	sorted := append([]Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	s.mu.Lock()
	s.bars[NormalizeSymbol(symbol)] = sorted
	s.mu.Unlock()
}

func (s *StaticSource) SetNews(symbol string, news []Headline) {
	s.mu.Lock()
	s.news[NormalizeSymbol(symbol)] = append([]Headline(nil), news...)
	s.mu.Unlock()
}

func (s *StaticSource) Bars(ctx context.Context, symbol string, end time.Time, days int) ([]Bar, error) {
	s.mu.RLock()
	all, ok := s.bars[NormalizeSymbol(symbol)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no bars for %s", symbol)
	}
	start := end.AddDate(0, 0, -days)
	cutoff := endOfDay(end)
	var out []Bar
	for _, b := range all {
		if b.Date.Before(start) || b.Date.After(cutoff) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *StaticSource) News(ctx context.Context, symbol string, from, to time.Time) ([]Headline, error) {
	s.mu.RLock()
	all := s.news[NormalizeSymbol(symbol)]
	s.mu.RUnlock()
	cutoff := endOfDay(to)
	var out []Headline
	for _, h := range all {
		if h.PublishedAt.Before(from) || h.PublishedAt.After(cutoff) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
