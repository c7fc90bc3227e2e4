package debate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
)

// Settings control when a segment stops.
type Settings struct {
	// MaxRounds caps the segment at MaxRounds turns per participant.
	MaxRounds          int
	ConvergenceEnabled bool
	SemanticThreshold  float64
	InfoGainThreshold  float64
}

// SettingsFromConfig returns the settings of the research or risk segment.
func SettingsFromConfig(cfg *config.Config, segment string) Settings {
	rounds := cfg.MaxDebateRounds
	if segment == consts.SegmentRisk {
		rounds = cfg.MaxRiskDiscussRounds
	}
	return Settings{
		MaxRounds:          rounds,
		ConvergenceEnabled: cfg.ConvergenceEnabled,
		SemanticThreshold:  cfg.SemanticThreshold,
		InfoGainThreshold:  cfg.InfoGainThreshold,
	}
}

// Coordinator decides whose turn is next and when a segment stops. It never
// produces content.
type Coordinator struct {
	settings   Settings
	similarity Similarity
	novelty    Novelty
	logger     *slog.Logger
}

type Option func(*Coordinator)

func WithSimilarity(s Similarity) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.similarity = s
		}
	}
}

func WithNovelty(n Novelty) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.novelty = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(settings Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		settings:   settings,
		similarity: LexicalSimilarity{},
		novelty:    LexicalNovelty{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Settings() Settings { return c.settings }

// Step returns the next speaker and the stop signal for the record as it stands.
// The checks run in fixed priority: turn ceiling, semantic convergence, information
// gain. The first one that fires wins.
func (c *Coordinator) Step(ctx context.Context, rec *models.DebateRecord) (string, models.ConvergenceSignal) {
	next := rec.SpeakerAt(rec.TurnCount)
	participants := len(rec.Participants)
	if participants == 0 {
		return "", models.ConvergenceSignal{Stopped: true, Reason: consts.StopMaxRounds}
	}

	if rec.TurnCount >= participants*c.settings.MaxRounds {
		return next, models.ConvergenceSignal{Stopped: true, Reason: consts.StopMaxRounds}
	}
	if !c.settings.ConvergenceEnabled || rec.TurnCount == 0 {
		return next, models.ConvergenceSignal{}
	}

	current := rec.Transcript[rec.TurnCount-1]

	// same speaker spoke exactly one rotation earlier
	if prevIdx := rec.TurnCount - 1 - participants; prevIdx >= 0 {
		prev := rec.Transcript[prevIdx]
		score, err := c.similarity.Score(ctx, prev.Content, current.Content)
		if err != nil {
			c.logger.Warn("similarity check skipped", "segment", rec.Segment, "turn", rec.TurnCount, "error", err)
		} else if score > c.settings.SemanticThreshold {
			return next, models.ConvergenceSignal{Stopped: true, Reason: consts.StopSemanticConverged}
		}
	}

	if rec.TurnCount > 1 {
		prior := make([]string, 0, rec.TurnCount-1)
		for _, t := range rec.Transcript[:rec.TurnCount-1] {
			prior = append(prior, t.Content)
		}
		gain, err := c.novelty.Novelty(ctx, current.Content, strings.Join(prior, "\n"))
		if err != nil {
			c.logger.Warn("information gain check skipped", "segment", rec.Segment, "turn", rec.TurnCount, "error", err)
		} else if gain < c.settings.InfoGainThreshold {
			return next, models.ConvergenceSignal{Stopped: true, Reason: consts.StopInfoGainLow}
		}
	}

	return next, models.ConvergenceSignal{}
}
