package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/models"
)

// Resolution is the starting state of a run. Release must be called when the run
// ends; until then no other caller can resolve the same identity.
type Resolution struct {
	State   *models.RunState
	Resumed bool
	// FromSeq is the checkpoint the state was recovered from, zero for fresh runs.
	FromSeq int64
	Release func()
}

type Engine struct {
	store  checkpoint.Store
	locker checkpoint.Locker
	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(store checkpoint.Store, locker checkpoint.Locker, opts ...Option) *Engine {
	if locker == nil {
		locker = checkpoint.NewKeyedLocker()
	}
	e := &Engine{store: store, locker: locker, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve takes the identity lock, then returns either fresh unchanged or the latest
// checkpoint merged over it. Subject, as-of date and run id must match; a mismatch
// is fatal and nothing is merged.
func (e *Engine) Resolve(ctx context.Context, runID string, fresh *models.RunState) (*Resolution, error) {
	if fresh == nil {
		return nil, errs.Fatalf(errs.CodeInvalidRequest, "recovery", "fresh state is nil")
	}
	if fresh.RunID != runID {
		return nil, errs.Fatalf(errs.CodeIdentityMismatch, "recovery", "fresh state run id %q does not match %q", fresh.RunID, runID)
	}

	release, err := e.locker.Lock(ctx, runID)
	if err != nil {
		return nil, errs.Fatal(errs.CodeLockUnavailable, "recovery", fmt.Errorf("lock %s: %w", runID, err))
	}

	cp, err := e.store.GetLatest(ctx, runID)
	if err != nil {
		release()
		return nil, errs.Fatal(errs.CodeCheckpointUnavailable, "recovery", fmt.Errorf("load checkpoint %s: %w", runID, err))
	}
	if cp == nil {
		e.logger.Info("no checkpoint, starting fresh", "run_id", runID)
		return &Resolution{State: fresh, Release: release}, nil
	}

	merged, err := Merge(&cp.State, fresh)
	if err != nil {
		release()
		return nil, err
	}
	e.logger.Info("resuming from checkpoint",
		"run_id", runID,
		"seq", cp.Seq,
		"cursor", merged.Cursor,
		"committed", merged.Committed,
	)
	return &Resolution{State: merged, Resumed: true, FromSeq: cp.Seq, Release: release}, nil
}

// Merge applies the recovery policy: immutable fields are asserted equal, stage
// outputs and debate records come from the checkpoint, and the cursor points at
// the first group after the last committed one.
func Merge(saved, fresh *models.RunState) (*models.RunState, error) {
	mismatch := func(field, got, want string) error {
		return errs.Fatalf(errs.CodeIdentityMismatch, "recovery",
			"checkpoint %s %q does not match requested %q", field, got, want)
	}
	if saved.RunID != fresh.RunID {
		return nil, mismatch("run id", saved.RunID, fresh.RunID)
	}
	if saved.Subject != fresh.Subject {
		return nil, mismatch("subject", saved.Subject, fresh.Subject)
	}
	if saved.AsOfDate != fresh.AsOfDate {
		return nil, mismatch("as-of date", saved.AsOfDate, fresh.AsOfDate)
	}

	merged := saved.Clone()
	if merged.Outputs == nil {
		merged.Outputs = map[string]models.StageOutput{}
	}
	if merged.Debates == nil {
		merged.Debates = map[string]*models.DebateRecord{}
	}
	if merged.Committed == nil {
		merged.Committed = []string{}
	}
	merged.Cursor = len(merged.Committed)
	return merged, nil
}
