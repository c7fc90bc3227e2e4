package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyike/cortexflow/models"
	"github.com/dyike/cortexflow/pkg/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

// RunRow is one recorded run, newest first in Runs.
type RunRow struct {
	RunID      string
	Subject    string
	AsOfDate   string
	Status     string
	ReasonCode string
	Direction  string
	CreatedAt  time.Time
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    as_of_date TEXT NOT NULL,
    status TEXT NOT NULL,
    reason_code TEXT,
    direction TEXT,
    error TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    direction TEXT NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    decision_json TEXT NOT NULL,
    lineage_json TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    outcome TEXT NOT NULL,
    result_json TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_run ON runs(run_id);
CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, result models.RunResult) error {
	direction := ""
	if result.Decision != nil {
		direction = string(result.Decision.Direction)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, subject, as_of_date, status, reason_code, direction, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Subject, result.AsOfDate, result.Status, result.ReasonCode,
		direction, result.Error, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordDecision(ctx context.Context, record models.DecisionRecord) error {
	decisionJSON, err := json.Marshal(record.Decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	lineageJSON, err := json.Marshal(record.Lineage)
	if err != nil {
		return fmt.Errorf("encode lineage: %w", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO decisions (run_id, direction, degraded, decision_json, lineage_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		record.RunID, string(record.Decision.Direction), record.Decision.Degraded,
		string(decisionJSON), string(lineageJSON), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, result models.ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO executions (run_id, idempotency_key, outcome, result_json, created_at)
VALUES (?, ?, ?, ?, ?)`,
		result.RunID, result.IdempotencyKey, string(result.Outcome), string(data), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Runs lists the most recent runs.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, subject, as_of_date, status, COALESCE(reason_code, ''), COALESCE(direction, ''), created_at
FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r         RunRow
			createdAt int64
		)
		if err := rows.Scan(&r.RunID, &r.Subject, &r.AsOfDate, &r.Status, &r.ReasonCode, &r.Direction, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Decisions returns every decision recorded for a run, oldest first.
func (s *SQLiteStore) Decisions(ctx context.Context, runID string) ([]models.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT decision_json, COALESCE(lineage_json, 'null'), created_at
FROM decisions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var (
			decisionJSON, lineageJSON string
			createdAt                 int64
		)
		if err := rows.Scan(&decisionJSON, &lineageJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec := models.DecisionRecord{RunID: runID, CreatedAt: time.Unix(0, createdAt).UTC()}
		if err := json.Unmarshal([]byte(decisionJSON), &rec.Decision); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		if err := json.Unmarshal([]byte(lineageJSON), &rec.Lineage); err != nil {
			return nil, fmt.Errorf("decode lineage: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Executions returns every execution attempt recorded for a run, oldest first.
func (s *SQLiteStore) Executions(ctx context.Context, runID string) ([]models.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_json FROM executions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []models.ExecutionResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		var res models.ExecutionResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
