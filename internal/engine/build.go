package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/consts"
	"github.com/dyike/cortexflow/internal/agents"
	"github.com/dyike/cortexflow/internal/audit"
	"github.com/dyike/cortexflow/internal/broker"
	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/debate"
	"github.com/dyike/cortexflow/internal/execution"
	"github.com/dyike/cortexflow/internal/graph"
	"github.com/dyike/cortexflow/internal/marketdata"
	"github.com/dyike/cortexflow/internal/processing"
	"github.com/dyike/cortexflow/internal/recovery"
	"github.com/dyike/cortexflow/internal/retry"
	"github.com/dyike/cortexflow/internal/risk"
	"github.com/dyike/cortexflow/internal/stage"
)

// Deps override what Build would otherwise construct from the config. Zero values
// mean "build from config".
type Deps struct {
	Models      *agents.Models
	Source      marketdata.Source
	News        marketdata.NewsSource
	Broker      broker.Broker
	Embedder    embedding.Embedder
	Sensitivity risk.SensitivityProvider
	// Stages replace default stages of the same name.
	Stages []stage.Stage
	Chunks chan<- agents.Chunk
	Logger *slog.Logger
}

// Build wires a Session from one config value. Every collaborator is passed down
// explicitly; nothing reads process-wide state.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (sess *Session, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	store, locker, err := checkpoint.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	closers = append(closers, store.Close)

	provider, err := buildProvider(cfg, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}

	chatModels := deps.Models
	if chatModels == nil {
		chatModels, err = agents.NewModels(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("chat models: %w", err)
		}
	}

	stages, err := agents.NewStages(ctx, agents.Deps{
		Models: chatModels,
		Market: provider,
		Logger: logger,
		Chunks: deps.Chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("stages: %w", err)
	}
	registry, err := stage.NewRegistry(stages...)
	if err != nil {
		return nil, err
	}
	for _, s := range deps.Stages {
		registry.Replace(s)
	}

	policy := retry.FromConfig(cfg)
	graphOpts := []graph.Option{
		graph.WithRetryPolicy(policy),
		graph.WithLogger(logger),
	}
	for _, segment := range []string{consts.SegmentResearch, consts.SegmentRisk} {
		c, err := buildCoordinator(cfg, segment, deps.Embedder, logger)
		if err != nil {
			return nil, err
		}
		graphOpts = append(graphOpts, graph.WithCoordinator(segment, c))
	}
	if cfg.WriteReports {
		graphOpts = append(graphOpts, graph.WithCommitHook(audit.NewReportWriter(cfg.ResultsDir, logger).Hook))
	}
	g, err := graph.New(graph.TradingPipeline(), registry, store, processing.NewSignalProcessor(), graphOpts...)
	if err != nil {
		return nil, fmt.Errorf("stage graph: %w", err)
	}

	b := deps.Broker
	if b == nil {
		b, err = broker.NewFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}
	gateOpts := []risk.Option{risk.WithLogger(logger)}
	if deps.Sensitivity != nil {
		gateOpts = append(gateOpts, risk.WithSensitivityProvider(deps.Sensitivity))
	}
	gate := risk.NewGate(risk.LimitsFromConfig(cfg), gateOpts...)
	executor, err := execution.NewFromConfig(cfg, b, gate, provider, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, executor.Close)

	sink, err := audit.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	closers = append(closers, sink.Close)

	sess = NewSession(g, recovery.NewEngine(store, locker, recovery.WithLogger(logger)), store,
		WithExecutor(executor),
		WithAudit(sink),
		WithSessionLogger(logger),
	)
	sess.closers = closers
	return sess, nil
}

func buildProvider(cfg *config.Config, deps Deps, logger *slog.Logger) (*marketdata.Provider, error) {
	if deps.Source == nil {
		return marketdata.NewProviderFromConfig(cfg, logger)
	}
	opts := []marketdata.ProviderOption{marketdata.WithProviderLogger(logger)}
	if deps.News != nil {
		opts = append(opts, marketdata.WithNewsSource(deps.News))
	}
	return marketdata.NewProvider(deps.Source, opts...)
}

func buildCoordinator(cfg *config.Config, segment string, embedder embedding.Embedder, logger *slog.Logger) (*debate.Coordinator, error) {
	opts := []debate.Option{debate.WithLogger(logger)}
	if cfg.SimilarityMeasure == "embedding" {
		if embedder == nil {
			return nil, fmt.Errorf("similarity_measure embedding needs an embedder")
		}
		sim, err := debate.NewEmbeddingSimilarity(embedder, 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, debate.WithSimilarity(sim))
	}
	return debate.NewCoordinator(debate.SettingsFromConfig(cfg, segment), opts...), nil
}
