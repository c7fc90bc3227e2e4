package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
)

func sampleState(runID string) *models.RunState {
	s := models.NewRunState(runID, "AAPL", "2025-02-26")
	s.SetOutput(models.StageOutput{
		Stage:   consts.MarketAnalyst,
		Content: "uptrend intact",
		Fields:  map[string]string{"rating": "bullish"},
		Lineage: []models.LineageRef{{Stage: consts.MarketAnalyst, Source: "yahoo", ID: "q-1"}},
	})
	s.SetOutput(models.StageOutput{Stage: consts.NewsAnalyst, Content: "", Degraded: true, Reason: "invalid_output"})
	s.Commit(consts.GroupAnalysts)
	rec := s.Debate(consts.SegmentResearch, []string{consts.BullResearcher, consts.BearResearcher})
	_ = rec.Append(models.Turn{Speaker: consts.BullResearcher, Content: "growth"})
	rec.Signal = models.ConvergenceSignal{Stopped: false}
	return s
}

func storeCases(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
	if dsn := os.Getenv("CHECKPOINT_TEST_DSN"); dsn != "" {
		pg, err := OpenPostgres(context.Background(), dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			runID := fmt.Sprintf("roundtrip-%s-%d", name, time.Now().UnixNano())

			cp, err := store.GetLatest(ctx, runID)
			require.NoError(t, err)
			require.Nil(t, cp)

			state := sampleState(runID)
			seq, err := store.Put(ctx, runID, state)
			require.NoError(t, err)
			require.Equal(t, int64(1), seq)

			cp, err = store.GetLatest(ctx, runID)
			require.NoError(t, err)
			require.NotNil(t, cp)
			require.Equal(t, seq, cp.Seq)
			require.Equal(t, *state, cp.State)
		})
	}
}

func TestStoreSequencesAndHistory(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			runID := fmt.Sprintf("history-%s-%d", name, time.Now().UnixNano())
			state := sampleState(runID)

			for i := 1; i <= 3; i++ {
				state.Commit(fmt.Sprintf("group-%d", i))
				seq, err := store.Put(ctx, runID, state)
				require.NoError(t, err)
				require.Equal(t, int64(i), seq)
			}

			// later mutation must not leak into stored snapshots
			state.Outputs[consts.Trader] = models.StageOutput{Stage: consts.Trader, Content: "late"}

			history, err := store.History(ctx, runID)
			require.NoError(t, err)
			require.Len(t, history, 3)
			require.Equal(t, 2, history[0].State.Cursor)
			require.Equal(t, 4, history[2].State.Cursor)

			latest, err := store.GetLatest(ctx, runID)
			require.NoError(t, err)
			require.Equal(t, int64(3), latest.Seq)
			_, ok := latest.State.Outputs[consts.Trader]
			require.False(t, ok)
		})
	}
}

func TestStoreConcurrentRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runID := fmt.Sprintf("run-%d", i)
			for j := 0; j < 5; j++ {
				_, err := store.Put(ctx, runID, sampleState(runID))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 16; i++ {
		cp, err := store.GetLatest(ctx, fmt.Sprintf("run-%d", i))
		require.NoError(t, err)
		require.Equal(t, int64(5), cp.Seq)
	}
}

func TestKeyedLocker(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "AAPL:2025-02-26")
	require.NoError(t, err)

	// other identities are independent
	unlockOther, err := locker.Lock(ctx, "MSFT:2025-02-26")
	require.NoError(t, err)
	unlockOther()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "AAPL:2025-02-26")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		release, err := locker.Lock(ctx, "AAPL:2025-02-26")
		if err == nil {
			release()
		}
		close(acquired)
	}()
	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}
