package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/engine"
	"github.com/dyike/cortexflow/models"
)

// Engine is one built session plus the config it was built from. Runs in flight
// keep the engine open until they return, even after a reload retires it.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	session  *engine.Session
	inflight sync.WaitGroup
	retired  atomic.Bool
}

var engineSeq atomic.Uint64

// NewEngine wraps an already built session.
func NewEngine(cfg config.Config, sess *engine.Session) *Engine {
	return &Engine{
		Config:  cfg,
		BuiltAt: time.Now(),
		Version: engineSeq.Add(1),
		session: sess,
	}
}

// BuildEngine builds a session from cfg with default collaborators.
func BuildEngine(ctx context.Context, cfg config.Config, deps engine.Deps) (*Engine, error) {
	sess, err := engine.Build(ctx, &cfg, deps)
	if err != nil {
		return nil, err
	}
	return NewEngine(cfg, sess), nil
}

func (e *Engine) Session() *engine.Session { return e.session }

func (e *Engine) Run(ctx context.Context, req engine.RunRequest) (*models.RunResult, error) {
	e.inflight.Add(1)
	defer e.inflight.Done()
	return e.session.Run(ctx, req)
}

// retire closes the session once every in-flight run has returned.
func (e *Engine) retire() error {
	if !e.retired.CompareAndSwap(false, true) {
		return nil
	}
	e.inflight.Wait()
	if e.session == nil {
		return nil
	}
	return e.session.Close()
}
