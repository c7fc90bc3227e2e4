package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/models"
)

// Advisory lock classes. The run identity lock and the checkpoint writer lock key
// on the same run hash, so they must live in different classes: a run holds its
// identity lock while its own checkpoints are written.
const (
	runLockClass    int32 = 0x43460001
	writerLockClass int32 = 0x43460002
)

// PostgresStore is the networked backend. Writers of one run are serialized with a
// transaction-scoped advisory lock. The newest checkpoint per run is cached and
// revalidated against MAX(seq) on every read, since other processes append too.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	latest *lru.Cache[string, models.Checkpoint]
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db)
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	cache, err := lru.New[string, models.Checkpoint](1024)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, latest: cache}, nil
}

// DB exposes the pool so a PostgresLocker can share it.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS run_checkpoints (
    run_id TEXT NOT NULL,
    seq BIGINT NOT NULL,
    state JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, seq)
)`)
	})
	if s.schemaErr != nil {
		return fmt.Errorf("ensure checkpoint schema: %w", s.schemaErr)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, runID string, state *models.RunState) (int64, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}
	data, err := encodeState(state)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1::int4, hashtext($2))`, writerLockClass, runID); err != nil {
		return 0, fmt.Errorf("lock run %s: %w", runID, err)
	}
	var (
		seq       int64
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
INSERT INTO run_checkpoints (run_id, seq, state)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2::jsonb FROM run_checkpoints WHERE run_id = $1
RETURNING seq, created_at`, runID, string(data)).Scan(&seq, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit checkpoint: %w", err)
	}

	if decoded, err := decodeState(data); err == nil {
		s.cacheLatest(models.Checkpoint{RunID: runID, Seq: seq, State: decoded, CreatedAt: createdAt.UTC()})
	}
	return seq, nil
}

// cacheLatest never replaces a newer cached checkpoint with an older one.
func (s *PostgresStore) cacheLatest(cp models.Checkpoint) {
	if cur, ok := s.latest.Peek(cp.RunID); ok && cur.Seq > cp.Seq {
		return
	}
	s.latest.Add(cp.RunID, cp)
}

func (s *PostgresStore) GetLatest(ctx context.Context, runID string) (*models.Checkpoint, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if cp, ok := s.latest.Get(runID); ok {
		var maxSeq sql.NullInt64
		if err := s.db.QueryRowContext(ctx,
			`SELECT MAX(seq) FROM run_checkpoints WHERE run_id = $1`, runID).Scan(&maxSeq); err != nil {
			return nil, fmt.Errorf("query latest seq: %w", err)
		}
		if maxSeq.Valid && maxSeq.Int64 == cp.Seq {
			cp.State = *cp.State.Clone()
			return &cp, nil
		}
		s.latest.Remove(runID)
	}
	var (
		seq       int64
		data      string
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
SELECT seq, state::text, created_at FROM run_checkpoints
WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`, runID).Scan(&seq, &data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.latest.Remove(runID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest checkpoint: %w", err)
	}
	state, err := decodeState([]byte(data))
	if err != nil {
		return nil, err
	}
	cp := models.Checkpoint{RunID: runID, Seq: seq, State: state, CreatedAt: createdAt.UTC()}
	s.cacheLatest(cp)
	cp.State = *cp.State.Clone()
	return &cp, nil
}

func (s *PostgresStore) History(ctx context.Context, runID string) ([]models.Checkpoint, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, state::text, created_at FROM run_checkpoints
WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []models.Checkpoint
	for rows.Next() {
		var (
			seq       int64
			data      string
			createdAt time.Time
		)
		if err := rows.Scan(&seq, &data, &createdAt); err != nil {
			return nil, err
		}
		state, err := decodeState([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, models.Checkpoint{RunID: runID, Seq: seq, State: state, CreatedAt: createdAt.UTC()})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Backend() string { return consts.BackendNetworked }

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PostgresLocker holds a session-level advisory lock on a dedicated connection, so
// resumption is exclusive across processes. It uses its own lock class, so holding
// it never blocks PostgresStore.Put for the same run.
type PostgresLocker struct {
	db *sql.DB
}

func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) Lock(ctx context.Context, runID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1::int4, hashtext($2))`, runLockClass, runID); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock %s: %w", runID, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1::int4, hashtext($2))`, runLockClass, runID)
			_ = conn.Close()
		})
	}, nil
}
