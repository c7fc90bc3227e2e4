package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
	"github.com/dyike/cortexflow/pkg/sqlite"
)

// SQLiteStore is the embedded file backend.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS checkpoints (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    state BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init checkpoint schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, runID string, state *models.RunState) (int64, error) {
	data, err := encodeState(state)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next checkpoint seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, seq, state, created_at) VALUES (?, ?, ?, ?)`,
		runID, seq, data, time.Now().UTC().UnixNano()); err != nil {
		return 0, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit checkpoint: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, runID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, state, created_at FROM checkpoints WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID)
	cp, err := scanCheckpoint(runID, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLiteStore) History(ctx context.Context, runID string) ([]models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, created_at FROM checkpoints WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(runID, rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Backend() string { return consts.BackendFile }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanCheckpoint(runID string, scan func(dest ...any) error) (models.Checkpoint, error) {
	var (
		seq       int64
		data      []byte
		createdAt int64
	)
	if err := scan(&seq, &data, &createdAt); err != nil {
		return models.Checkpoint{}, err
	}
	state, err := decodeState(data)
	if err != nil {
		return models.Checkpoint{}, err
	}
	return models.Checkpoint{
		RunID:     runID,
		Seq:       seq,
		State:     state,
		CreatedAt: time.Unix(0, createdAt).UTC(),
	}, nil
}
