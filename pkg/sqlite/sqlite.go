package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type openOptions struct {
	busyTimeoutMS int
	maxOpenConns  int
}

type Option func(*openOptions)

// WithBusyTimeout sets how long a writer waits for the database lock.
func WithBusyTimeout(ms int) Option {
	return func(o *openOptions) {
		if ms > 0 {
			o.busyTimeoutMS = ms
		}
	}
}

// WithMaxOpenConns caps the pool. SQLite has one writer, so stores that write from
// many goroutines use 1.
func WithMaxOpenConns(n int) Option {
	return func(o *openOptions) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// Open opens (creating if needed) a WAL-mode sqlite database.
func Open(dbPath string, opts ...Option) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	options := openOptions{busyTimeoutMS: 3000}
	for _, opt := range opts {
		opt(&options)
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if options.maxOpenConns > 0 {
		db.SetMaxOpenConns(options.maxOpenConns)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", options.busyTimeoutMS),
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	return db, nil
}
