// Package engine runs one analysis end to end: recovery, the stage graph, the
// audit trail and optional order execution.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/audit"
	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/errs"
	"github.com/dyike/cortexflow/internal/execution"
	"github.com/dyike/cortexflow/internal/graph"
	"github.com/dyike/cortexflow/internal/marketdata"
	"github.com/dyike/cortexflow/internal/metrics"
	"github.com/dyike/cortexflow/internal/recovery"
	"github.com/dyike/cortexflow/models"
)

// orderSeq is the sequence of the single order a run may place.
const orderSeq = 1

type RunRequest struct {
	// RunID defaults to subject:as_of_date.
	RunID    string
	Subject  string
	AsOfDate string
	// Execute turns a non-HOLD decision into an order.
	Execute bool
}

// Session is safe for concurrent runs of different identities.
type Session struct {
	graph    *graph.Graph
	recovery *recovery.Engine
	store    checkpoint.Store
	executor *execution.Executor
	audit    audit.Sink
	logger   *slog.Logger
	closers  []func() error
}

func NewSession(g *graph.Graph, rec *recovery.Engine, store checkpoint.Store, opts ...SessionOption) *Session {
	s := &Session{
		graph:    g,
		recovery: rec,
		store:    store,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SessionOption func(*Session)

func WithExecutor(e *execution.Executor) SessionOption {
	return func(s *Session) { s.executor = e }
}

func WithAudit(sink audit.Sink) SessionOption {
	return func(s *Session) {
		if sink != nil {
			s.audit = sink
		}
	}
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func (s *Session) Store() checkpoint.Store { return s.store }

func (s *Session) Audit() audit.Sink { return s.audit }

// Run resolves the starting state, runs the remaining groups and, when asked,
// executes the decision. The result always carries a status; the error is non-nil
// only when the status is failed.
func (s *Session) Run(ctx context.Context, req RunRequest) (*models.RunResult, error) {
	req.Subject = marketdata.NormalizeSymbol(req.Subject)
	if req.RunID == "" {
		req.RunID = models.RunIdentity(req.Subject, req.AsOfDate)
	}
	res := &models.RunResult{RunID: req.RunID, Subject: req.Subject, AsOfDate: req.AsOfDate}
	if err := validateRequest(req); err != nil {
		return s.fail(ctx, res, err)
	}

	logger := s.logger.With("run_id", req.RunID)
	started := time.Now()

	resolution, err := s.recovery.Resolve(ctx, req.RunID, models.NewRunState(req.RunID, req.Subject, req.AsOfDate))
	if err != nil {
		return s.fail(ctx, res, err)
	}
	defer resolution.Release()
	res.Resumed = resolution.Resumed

	final, decision, err := s.graph.Run(ctx, resolution.State)
	res.State = final
	if err != nil {
		return s.fail(ctx, res, err)
	}
	res.Decision = decision
	res.Degraded = final.Degraded()

	if err := s.audit.RecordDecision(ctx, models.DecisionRecord{
		RunID:     req.RunID,
		Decision:  *decision,
		Lineage:   final.Lineage,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		logger.Warn("audit decision failed", "err", err)
	}

	if req.Execute && decision.Direction != models.DirectionHold {
		if s.executor == nil {
			return s.fail(ctx, res, errs.Fatalf(errs.CodeInvalidRequest, "execute", "execution is not configured"))
		}
		exec, err := s.executor.Execute(ctx, decision, final, orderSeq)
		res.Execution = exec
		if exec != nil && !exec.Replayed {
			if aerr := s.audit.RecordExecution(ctx, *exec); aerr != nil {
				logger.Warn("audit execution failed", "err", aerr)
			}
		}
		if err != nil {
			return s.fail(ctx, res, err)
		}
	}

	res.Status = statusOf(res)
	metrics.Run(res.Status)
	s.recordRun(ctx, res)
	logger.Info("run finished",
		"status", res.Status,
		"direction", decision.Direction,
		"resumed", res.Resumed,
		"degraded", res.Degraded,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return res, nil
}

func statusOf(res *models.RunResult) string {
	switch {
	case res.Execution != nil && res.Execution.Outcome == models.OutcomeRejectedByRisk:
		return consts.StatusRejectedByRisk
	case len(res.Degraded) > 0 || (res.Decision != nil && res.Decision.Degraded):
		return consts.StatusCompletedDegraded
	default:
		return consts.StatusCompleted
	}
}

func (s *Session) fail(ctx context.Context, res *models.RunResult, err error) (*models.RunResult, error) {
	res.Status = consts.StatusFailed
	res.ReasonCode = errs.CodeOf(err)
	if res.ReasonCode == "" {
		res.ReasonCode = errs.KindOf(err).String()
	}
	res.Error = err.Error()
	metrics.Run(res.Status)
	s.recordRun(context.WithoutCancel(ctx), res)
	s.logger.Error("run failed", "run_id", res.RunID, "reason", res.ReasonCode, "err", err)
	return res, err
}

func (s *Session) recordRun(ctx context.Context, res *models.RunResult) {
	if err := s.audit.RecordRun(ctx, *res); err != nil {
		s.logger.Warn("audit run failed", "run_id", res.RunID, "err", err)
	}
}

func validateRequest(req RunRequest) error {
	if strings.TrimSpace(req.Subject) == "" {
		return errs.Fatalf(errs.CodeInvalidRequest, "run", "subject is required")
	}
	if _, err := marketdata.ParseDate(req.AsOfDate); err != nil {
		return errs.Fatal(errs.CodeInvalidRequest, "run", fmt.Errorf("as-of date: %w", err))
	}
	return nil
}

// Close releases every backend the session opened.
func (s *Session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
