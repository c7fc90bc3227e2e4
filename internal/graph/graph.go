package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/debate"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/internal/metrics"
	"github.com/dyike/cortexflow/internal/retry"
	"github.com/dyike/cortexflow/internal/stage"
	"github.com/dyike/cortexflow/models"
)

// DecisionExtractor turns the final stage output into a Decision. A validation error
// makes the run fall back to HOLD.
type DecisionExtractor interface {
	Extract(ctx context.Context, state *models.RunState, out models.StageOutput) (*models.Decision, error)
}

// CommitHook observes every committed group after its checkpoint is durable.
type CommitHook func(ctx context.Context, group Group, state *models.RunState)

// Graph runs a fixed sequence of stage groups over a RunState, checkpointing after
// every committed group and after every debate turn.
type Graph struct {
	groups       []Group
	registry     *stage.Registry
	store        checkpoint.Store
	coordinators map[string]*debate.Coordinator
	extractor    DecisionExtractor
	policy       retry.Policy
	hooks        []CommitHook
	logger       *slog.Logger
}

type Option func(*Graph)

// WithCoordinator sets the coordinator of a debate segment.
func WithCoordinator(segment string, c *debate.Coordinator) Option {
	return func(g *Graph) {
		g.coordinators[segment] = c
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Graph) {
		g.policy = p
	}
}

func WithCommitHook(hook CommitHook) Option {
	return func(g *Graph) {
		if hook != nil {
			g.hooks = append(g.hooks, hook)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func New(groups []Group, registry *stage.Registry, store checkpoint.Store, extractor DecisionExtractor, opts ...Option) (*Graph, error) {
	g := &Graph{
		groups:       groups,
		registry:     registry,
		store:        store,
		coordinators: make(map[string]*debate.Coordinator),
		extractor:    extractor,
		policy:       retry.DefaultPolicy(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = metrics.Retry
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) validate() error {
	if len(g.groups) == 0 {
		return fmt.Errorf("graph has no groups")
	}
	if g.registry == nil || g.store == nil || g.extractor == nil {
		return fmt.Errorf("graph needs a registry, a checkpoint store and a decision extractor")
	}
	seen := make(map[string]bool, len(g.groups))
	for _, group := range g.groups {
		if err := group.validate(); err != nil {
			return err
		}
		if seen[group.Name] {
			return fmt.Errorf("duplicate group %s", group.Name)
		}
		seen[group.Name] = true
		for _, name := range group.Stages {
			if _, err := g.registry.Get(name); err != nil {
				return fmt.Errorf("group %s: %w", group.Name, err)
			}
		}
		if group.Kind == KindDebate && g.coordinators[group.Segment] == nil {
			return fmt.Errorf("debate segment %s has no coordinator", group.Segment)
		}
	}
	return nil
}

func (g *Graph) Groups() []Group { return g.groups }

// Run executes the groups from state.Cursor onwards and returns the final state and
// decision. State is mutated in place. On error the returned state is the last
// in-memory state; the last checkpoint is the last committed group or turn.
func (g *Graph) Run(ctx context.Context, state *models.RunState) (*models.RunState, *models.Decision, error) {
	if state.Cursor > len(g.groups) {
		return state, nil, errs.Fatalf(errs.CodeInvalidRequest, "graph", "cursor %d beyond %d groups", state.Cursor, len(g.groups))
	}

	for state.Cursor < len(g.groups) {
		group := g.groups[state.Cursor]
		// cancellation is only honoured between groups
		if err := ctx.Err(); err != nil {
			return state, nil, errs.Fatal(errs.CodeCancelled, "graph", fmt.Errorf("before group %s: %w", group.Name, err))
		}

		start := time.Now()
		g.logger.Info("group started", "run_id", state.RunID, "group", group.Name, "kind", group.Kind.String(), "cursor", state.Cursor)

		var err error
		switch group.Kind {
		case KindSequential:
			err = g.runSequential(ctx, group, state)
		case KindFanOut:
			err = g.runFanOut(ctx, group, state)
		case KindDebate:
			err = g.runDebate(ctx, group, state)
		}
		if err != nil {
			g.logger.Error("group failed", "run_id", state.RunID, "group", group.Name, "error", err)
			return state, nil, fmt.Errorf("group %s: %w", group.Name, err)
		}

		if state.Cursor == len(g.groups)-1 {
			g.decide(ctx, group, state)
		}
		state.Commit(group.Name)
		if err := g.checkpoint(ctx, state); err != nil {
			return state, nil, fmt.Errorf("group %s: %w", group.Name, err)
		}
		g.logger.Info("group committed", "run_id", state.RunID, "group", group.Name, "elapsed", time.Since(start).Round(time.Millisecond))
		for _, hook := range g.hooks {
			hook(ctx, group, state)
		}
	}

	if state.Decision == nil {
		// resumed after the final commit of a run that predates decision storage
		g.decide(ctx, g.groups[len(g.groups)-1], state)
	}
	return state, state.Decision, nil
}

func (g *Graph) runSequential(ctx context.Context, group Group, state *models.RunState) error {
	// an in-flight group runs to completion even if the run is cancelled
	out, err := g.invoke(context.WithoutCancel(ctx), group.Stages[0], state.Clone())
	if err != nil {
		return err
	}
	state.SetOutput(out)
	return nil
}

func (g *Graph) runFanOut(ctx context.Context, group Group, state *models.RunState) error {
	view := state.Clone()
	outputs := make([]models.StageOutput, len(group.Stages))

	eg, egCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i, name := range group.Stages {
		eg.Go(func() error {
			out, err := g.invoke(egCtx, name, view.Clone())
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// all or nothing
	for _, out := range outputs {
		state.SetOutput(out)
	}
	return nil
}

func (g *Graph) runDebate(ctx context.Context, group Group, state *models.RunState) error {
	coordinator := g.coordinators[group.Segment]
	rec := state.Debate(group.Segment, group.Stages)

	for {
		next, signal := coordinator.Step(ctx, rec)
		rec.Signal = signal
		if signal.Stopped {
			metrics.DebateStop(group.Segment, signal.Reason)
			g.logger.Info("debate stopped",
				"run_id", state.RunID,
				"segment", group.Segment,
				"turns", rec.TurnCount,
				"reason", signal.Reason,
			)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errs.Fatal(errs.CodeCancelled, "debate", fmt.Errorf("before turn %d: %w", rec.TurnCount, err))
		}

		out, err := g.invoke(context.WithoutCancel(ctx), next, state.Clone())
		if err != nil {
			return err
		}
		if err := rec.Append(models.Turn{Speaker: next, Content: out.Content}); err != nil {
			return errs.Fatal(errs.CodeStageFailed, "debate", err)
		}
		state.SetOutput(out)
		metrics.DebateTurn(group.Segment)

		// a turn is a stage boundary: persist the partial transcript
		if err := g.checkpoint(ctx, state); err != nil {
			return err
		}
	}
}

// invoke calls one stage with retries. Validation errors become a degraded output;
// everything else that survives the retry budget is fatal for the group.
func (g *Graph) invoke(ctx context.Context, name string, view *models.RunState) (models.StageOutput, error) {
	s, err := g.registry.Get(name)
	if err != nil {
		return models.StageOutput{}, err
	}

	start := time.Now()
	out, err := retry.DoValue(ctx, g.policy, "stage "+name, func(ctx context.Context) (models.StageOutput, error) {
		return s.Invoke(ctx, view)
	})
	metrics.StageDuration(name, time.Since(start))

	switch {
	case err == nil:
		out.Stage = name
		return out, nil
	case errs.IsValidation(err):
		g.logger.Warn("stage output degraded", "run_id", view.RunID, "stage", name, "error", err)
		metrics.StageDegraded(name)
		return models.StageOutput{Stage: name, Degraded: true, Reason: errs.CodeInvalidOutput}, nil
	case errs.IsFatal(err):
		return models.StageOutput{}, fmt.Errorf("stage %s: %w", name, err)
	default:
		return models.StageOutput{}, errs.Fatal(errs.CodeStageFailed, "stage "+name, err)
	}
}

func (g *Graph) decide(ctx context.Context, group Group, state *models.RunState) {
	final := group.FinalStage()
	out, ok := state.Output(final)
	if !ok || out.Degraded {
		state.Decision = models.HoldDecision(state.Subject, state.AsOfDate, "final stage output unavailable")
		return
	}
	decision, err := g.extractor.Extract(ctx, state, out)
	if err != nil {
		g.logger.Warn("decision fell back to HOLD", "run_id", state.RunID, "stage", final, "error", err)
		metrics.StageDegraded(final)
		out.Degraded = true
		out.Reason = errs.CodeInvalidOutput
		state.Outputs[final] = out
		state.Decision = models.HoldDecision(state.Subject, state.AsOfDate, "final output could not be parsed")
		return
	}
	state.Decision = decision
}

func (g *Graph) checkpoint(ctx context.Context, state *models.RunState) error {
	seq, err := retry.DoValue(context.WithoutCancel(ctx), g.policy, "checkpoint", func(ctx context.Context) (int64, error) {
		seq, err := g.store.Put(ctx, state.RunID, state)
		if err != nil && !errs.IsTransient(err) {
			return 0, errs.Fatal(errs.CodeCheckpointUnavailable, "checkpoint", err)
		}
		return seq, err
	})
	if err != nil {
		if errs.CodeOf(err) != errs.CodeCheckpointUnavailable {
			err = errs.Fatal(errs.CodeCheckpointUnavailable, "checkpoint", err)
		}
		return err
	}
	metrics.Checkpoint(g.store.Backend())
	g.logger.Debug("checkpoint written", "run_id", state.RunID, "seq", seq, "cursor", state.Cursor)
	return nil
}
