package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/metrics"
)

// initEinoDebug starts the eino visual debug server when enabled.
func initEinoDebug(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.EinoDebugEnabled {
		return nil
	}
	logger.Debug("initializing eino debug plugin", "port", cfg.EinoDebugPort)
	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize Eino debug plugin: %w", err)
	}
	logger.Info("eino debug server ready", "url", fmt.Sprintf("http://localhost:%d", cfg.EinoDebugPort))
	return nil
}

// startMetricsServer serves Prometheus metrics on addr. An empty addr is a no-op.
// The returned func shuts the server down.
func startMetricsServer(addr string, logger *slog.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
