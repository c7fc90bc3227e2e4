package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/engine"
	"github.com/dyike/cortexflow/models"
)

type EngineBuilder func(context.Context, config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Runtime keeps one live Engine in step with the config file. A valid edit builds a
// new engine and swaps it in; a failed build leaves the previous engine serving.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  func(string, string)
	logger  *slog.Logger
	cancel  context.CancelFunc
}

func NewRuntime(ctx context.Context, cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr: cfgMgr,
		logger: slog.Default(),
	}
	rt.builder = func(ctx context.Context, cfg config.Config) (*Engine, error) {
		return BuildEngine(ctx, cfg, engine.Deps{Logger: rt.logger})
	}

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(ctx, cfgMgr.Get()); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel
	if err := cfgMgr.Watch(watchCtx, func(cfg config.Config, changed []string) {
		if err := rt.reload(watchCtx, cfg); err != nil {
			rt.logger.Error("engine reload failed", "fields", changed, "error", err)
		}
	}); err != nil {
		cancel()
		rt.closeEngine(rt.engine.Load())
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Run executes one request on the engine current at call time.
func (r *Runtime) Run(ctx context.Context, req engine.RunRequest) (*models.RunResult, error) {
	eng := r.engine.Load()
	if eng == nil {
		return nil, fmt.Errorf("runtime has no engine")
	}
	return eng.Run(ctx, req)
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.closeEngine(r.engine.Swap(nil))
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

func (r *Runtime) reload(ctx context.Context, cfg config.Config) error {
	eng, err := r.builder(ctx, cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	old := r.engine.Swap(eng)
	if old != nil {
		go r.closeEngine(old)
	}
	r.logger.Info("engine ready", "version", eng.Version)
	r.notifySuccess(eng)
	return nil
}

func (r *Runtime) closeEngine(eng *Engine) {
	if eng == nil {
		return
	}
	if err := eng.retire(); err != nil {
		r.logger.Warn("close engine", "version", eng.Version, "error", err)
	}
}

func (r *Runtime) notifySuccess(eng *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  eng.Version,
		"built_at": eng.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
