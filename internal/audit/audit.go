// Package audit keeps the append-only trail of runs, decisions and executions.
// Nothing here is needed for a run to complete.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/models"
)

type Sink interface {
	RecordRun(ctx context.Context, result models.RunResult) error
	RecordDecision(ctx context.Context, record models.DecisionRecord) error
	RecordExecution(ctx context.Context, result models.ExecutionResult) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRun(context.Context, models.RunResult) error { return nil }
func (Nop) RecordDecision(context.Context, models.DecisionRecord) error { return nil }
func (Nop) RecordExecution(context.Context, models.ExecutionResult) error { return nil }
func (Nop) Close() error { return nil }

// Multi fans every record out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) RecordRun(ctx context.Context, result models.RunResult) error {
	var errList []error
	for _, s := range m {
		errList = append(errList, s.RecordRun(ctx, result))
	}
	return errors.Join(errList...)
}

func (m Multi) RecordDecision(ctx context.Context, record models.DecisionRecord) error {
	var errList []error
	for _, s := range m {
		errList = append(errList, s.RecordDecision(ctx, record))
	}
	return errors.Join(errList...)
}

func (m Multi) RecordExecution(ctx context.Context, result models.ExecutionResult) error {
	var errList []error
	for _, s := range m {
		errList = append(errList, s.RecordExecution(ctx, result))
	}
	return errors.Join(errList...)
}

func (m Multi) Close() error {
	var errList []error
	for _, s := range m {
		errList = append(errList, s.Close())
	}
	return errors.Join(errList...)
}

// NewFromConfig opens the configured audit backend.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.AuditBackend {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return OpenSQLite(cfg.AuditPath)
	case "s3":
		return NewS3Store(S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}
}
