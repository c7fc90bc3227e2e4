package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dyike/cortexflow/models"
	"github.com/dyike/cortexflow/pkg/sqlite"
)

// Ledger remembers the outcome of every idempotency key.
type Ledger interface {
	// Get returns nil when the key was never recorded.
	Get(ctx context.Context, key string) (*models.ExecutionResult, error)
	Record(ctx context.Context, result models.ExecutionResult) error
	Close() error
}

type MemoryLedger struct {
	mu      sync.RWMutex
	results map[string]models.ExecutionResult
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{results: make(map[string]models.ExecutionResult)}
}

func (l *MemoryLedger) Get(ctx context.Context, key string) (*models.ExecutionResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[key]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (l *MemoryLedger) Record(ctx context.Context, result models.ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[result.IdempotencyKey] = result
	return nil
}

func (l *MemoryLedger) Close() error { return nil }

// SQLiteLedger persists results so idempotency survives restarts.
type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sqlite.Open(path, sqlite.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	schema := `
CREATE TABLE IF NOT EXISTS executions (
    idempotency_key TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    result TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init execution ledger schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Get(ctx context.Context, key string) (*models.ExecutionResult, error) {
	var data string
	err := l.db.QueryRowContext(ctx,
		`SELECT result FROM executions WHERE idempotency_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query execution %s: %w", key, err)
	}
	var res models.ExecutionResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", key, err)
	}
	return &res, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, result models.ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
INSERT INTO executions (idempotency_key, run_id, seq, outcome, result, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO UPDATE SET
    outcome = excluded.outcome,
    result = excluded.result,
    updated_at = excluded.updated_at`,
		result.IdempotencyKey, result.RunID, result.Sequence, string(result.Outcome), string(data),
		time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record execution %s: %w", result.IdempotencyKey, err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
