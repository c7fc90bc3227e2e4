package debate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
)

var researchers = []string{consts.BullResearcher, consts.BearResearcher}

func record(t *testing.T, participants []string, contents ...string) *models.DebateRecord {
	t.Helper()
	rec := models.NewDebateRecord(consts.SegmentResearch, participants)
	for _, c := range contents {
		require.NoError(t, rec.Append(models.Turn{Speaker: rec.SpeakerAt(rec.TurnCount), Content: c}))
	}
	return rec
}

func noConvergence(rounds int) Settings {
	return Settings{MaxRounds: rounds, ConvergenceEnabled: false, SemanticThreshold: 1, InfoGainThreshold: 0}
}

func TestStepRoundRobin(t *testing.T) {
	c := NewCoordinator(noConvergence(3))
	rec := record(t, researchers)
	for i := 0; i < 6; i++ {
		next, sig := c.Step(context.Background(), rec)
		require.False(t, sig.Stopped)
		require.Equal(t, researchers[i%2], next)
		require.NoError(t, rec.Append(models.Turn{Speaker: next, Content: fmt.Sprintf("argument %d", i)}))
	}
	_, sig := c.Step(context.Background(), rec)
	require.Equal(t, models.ConvergenceSignal{Stopped: true, Reason: consts.StopMaxRounds}, sig)
}

func TestTerminationCeiling(t *testing.T) {
	for rounds := 1; rounds <= 4; rounds++ {
		t.Run(fmt.Sprintf("rounds=%d", rounds), func(t *testing.T) {
			c := NewCoordinator(noConvergence(rounds))
			rec := record(t, researchers)
			for {
				next, sig := c.Step(context.Background(), rec)
				if sig.Stopped {
					require.Equal(t, consts.StopMaxRounds, sig.Reason)
					break
				}
				require.NoError(t, rec.Append(models.Turn{Speaker: next, Content: fmt.Sprintf("unique %d words %d", rec.TurnCount, rounds)}))
			}
			require.Equal(t, 2*rounds, rec.TurnCount)
		})
	}
}

func TestRiskSegmentUsesThreeSpeakers(t *testing.T) {
	c := NewCoordinator(noConvergence(1))
	rec := record(t, []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst}, "a", "b")
	next, sig := c.Step(context.Background(), rec)
	require.False(t, sig.Stopped)
	require.Equal(t, consts.NeutralAnalyst, next)
	require.NoError(t, rec.Append(models.Turn{Speaker: next, Content: "c"}))
	_, sig = c.Step(context.Background(), rec)
	require.True(t, sig.Stopped)
}

func TestSemanticConvergence(t *testing.T) {
	c := NewCoordinator(Settings{MaxRounds: 5, ConvergenceEnabled: true, SemanticThreshold: 0.85, InfoGainThreshold: 0})
	rec := record(t, researchers,
		"revenue growth is strong and margins expand",
		"valuation is stretched and competition rises",
		"revenue growth is strong and margins expand",
	)
	next, sig := c.Step(context.Background(), rec)
	require.Equal(t, consts.BearResearcher, next)
	require.Equal(t, models.ConvergenceSignal{Stopped: true, Reason: consts.StopSemanticConverged}, sig)
}

func TestInfoGainLow(t *testing.T) {
	c := NewCoordinator(Settings{MaxRounds: 5, ConvergenceEnabled: true, SemanticThreshold: 0.99, InfoGainThreshold: 0.5})
	rec := record(t, researchers,
		"revenue growth is strong",
		"competition is strong",
		"competition growth is strong revenue",
	)
	_, sig := c.Step(context.Background(), rec)
	require.Equal(t, consts.StopInfoGainLow, sig.Reason)
}

func TestPriorityCeilingBeatsConvergence(t *testing.T) {
	c := NewCoordinator(Settings{MaxRounds: 1, ConvergenceEnabled: true, SemanticThreshold: 0, InfoGainThreshold: 1})
	rec := record(t, researchers, "same words", "same words")
	_, sig := c.Step(context.Background(), rec)
	require.Equal(t, consts.StopMaxRounds, sig.Reason)
}

func TestStepIsDeterministic(t *testing.T) {
	c := NewCoordinator(Settings{MaxRounds: 4, ConvergenceEnabled: true, SemanticThreshold: 0.6, InfoGainThreshold: 0.3})
	rec := record(t, researchers, "the stock looks cheap", "the stock looks expensive", "cheap stock with upside")
	next, sig := c.Step(context.Background(), rec)
	for i := 0; i < 20; i++ {
		n, s := c.Step(context.Background(), rec)
		require.Equal(t, next, n)
		require.Equal(t, sig, s)
	}
}

func TestScorerErrorsDoNotStop(t *testing.T) {
	failing := SimilarityFunc(func(ctx context.Context, a, b string) (float64, error) {
		return 0, errors.New("scorer down")
	})
	c := NewCoordinator(Settings{MaxRounds: 3, ConvergenceEnabled: true, SemanticThreshold: 0.1, InfoGainThreshold: 0},
		WithSimilarity(failing))
	rec := record(t, researchers, "a b", "c d", "a b")
	_, sig := c.Step(context.Background(), rec)
	require.False(t, sig.Stopped)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.MaxDebateRounds = 2
	cfg.MaxRiskDiscussRounds = 3
	require.Equal(t, 2, SettingsFromConfig(cfg, consts.SegmentResearch).MaxRounds)
	require.Equal(t, 3, SettingsFromConfig(cfg, consts.SegmentRisk).MaxRounds)
}

func TestLexicalMeasures(t *testing.T) {
	ctx := context.Background()
	score, err := LexicalSimilarity{}.Score(ctx, "Buy the dip!", "buy THE dip")
	require.NoError(t, err)
	require.Equal(t, 1.0, score)

	score, err = LexicalSimilarity{}.Score(ctx, "a b", "c d")
	require.NoError(t, err)
	require.Equal(t, 0.0, score)

	gain, err := LexicalNovelty{}.Novelty(ctx, "alpha beta gamma delta", "alpha beta")
	require.NoError(t, err)
	require.Equal(t, 0.5, gain)
}

type fakeEmbedder struct {
	calls   int
	vectors map[string][]float64
}

func (f *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.calls++
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = f.vectors[text]
	}
	return out, nil
}

func TestEmbeddingSimilarity(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"bull": {1, 0},
		"bear": {0, 1},
		"calf": {1, 0},
	}}
	sim, err := NewEmbeddingSimilarity(emb, 8)
	require.NoError(t, err)

	score, err := sim.Score(context.Background(), "bull", "calf")
	require.NoError(t, err)
	require.InDelta(t, 1.0, score, 1e-9)

	score, err = sim.Score(context.Background(), "bull", "bear")
	require.NoError(t, err)
	require.InDelta(t, 0.0, score, 1e-9)
	require.Equal(t, 2, emb.calls)

	_, err = sim.Score(context.Background(), "bear", "calf")
	require.NoError(t, err)
	require.Equal(t, 2, emb.calls, "cached vectors must not be re-embedded")
}
