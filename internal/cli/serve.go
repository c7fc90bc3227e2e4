package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/metrics"
	"github.com/dyike/cortexflow/pkg/app"
)

func newServeCmd(st *appState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON call API and reload the engine on config edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, st, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "Listen address")
	return cmd
}

func serve(ctx context.Context, st *appState, addr string) error {
	mgr, err := config.NewManager(config.WithConfigPath(st.configPath), config.WithInitialConfig(st.cfg))
	if err != nil {
		return err
	}
	logger := st.logger
	rt, err := app.NewRuntime(ctx, mgr,
		app.WithLogger(logger),
		app.WithNotifier(func(topic, payload string) {
			logger.Info("runtime event", "topic", topic, "payload", payload)
		}))
	if err != nil {
		return err
	}
	defer rt.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           newAPIHandler(app.NewDispatcher(rt), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving", "addr", ln.Addr().String(), "config", mgr.Path())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newAPIHandler exposes POST /v1/call/{method}; the request body is the params
// JSON and the response body the dispatcher's JSON response.
func newAPIHandler(d *app.Dispatcher, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /v1/call/{method}", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		method := r.PathValue("method")
		logger.Debug("call", "method", method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, d.Dispatch(r.Context(), method, string(body)))
	})
	return mux
}
