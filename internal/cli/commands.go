package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/agents"
	"github.com/dyike/cortexflow/internal/audit"
	"github.com/dyike/cortexflow/internal/checkpoint"
	"github.com/dyike/cortexflow/internal/engine"
)

// Version is set at build time.
var Version = "dev"

type runFlags struct {
	date    string
	runID   string
	execute bool
	yes     bool
	quiet   bool
}

func (f *runFlags) bind(cmd *cobra.Command, withRunID bool) {
	if withRunID {
		cmd.Flags().StringVar(&f.date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
		cmd.Flags().StringVar(&f.runID, "run-id", "", "Run identity; reusing one resumes that run")
	}
	cmd.Flags().BoolVar(&f.execute, "execute", false, "Submit the final decision to the broker")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "Skip the confirmation before sending live orders")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not stream model output")
}

// newAnalyzeCmd creates the analyze command
func newAnalyzeCmd(st *appState) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Run the trading pipeline for a stock symbol",
		Long: `Run every stage of the pipeline for one symbol and date.
Example: cortexflow analyze AAPL --date=2024-03-15 --execute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := flags.date
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			req := engine.RunRequest{
				RunID:    flags.runID,
				Subject:  args[0],
				AsOfDate: date,
			}
			return runPipeline(cmd, st, flags, req)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func newResumeCmd(st *appState) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume an interrupted run from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, st, flags, engine.RunRequest{RunID: args[0]})
		},
	}
	flags.bind(cmd, false)
	return cmd
}

// runPipeline builds a session, runs one request and renders the result. A request
// without a subject takes subject and date from the run's latest checkpoint.
func runPipeline(cmd *cobra.Command, st *appState, flags *runFlags, req engine.RunRequest) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := st.cfg
	out := cmd.OutOrStdout()

	req.Execute = flags.execute || cfg.ExecutionEnabled
	if req.Execute && isLiveBroker(cfg) && !flags.yes {
		ok, err := confirmLiveOrders(cfg)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, pendingStyle.Render("Order submission declined; running analysis only."))
			req.Execute = false
		}
	}

	stopMetrics, err := startMetricsServer(cfg.MetricsAddr, st.logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if err := initEinoDebug(ctx, cfg, st.logger); err != nil {
		st.logger.Warn("eino debug unavailable", "error", err)
	}

	var chunks chan agents.Chunk
	done := make(chan struct{})
	if flags.quiet {
		close(done)
	} else {
		chunks = make(chan agents.Chunk, 256)
		go func() {
			defer close(done)
			streamChunks(out, chunks)
		}()
	}
	stopStream := func() {
		if chunks != nil {
			close(chunks)
			chunks = nil
		}
		<-done
	}
	defer stopStream()

	sess, err := engine.Build(ctx, cfg, engine.Deps{Logger: st.logger, Chunks: chunks})
	if err != nil {
		return err
	}
	defer sess.Close()

	if req.Subject == "" {
		latest, err := sess.Store().GetLatest(ctx, req.RunID)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("run %s has no checkpoint", req.RunID)
		}
		req.Subject = latest.State.Subject
		req.AsOfDate = latest.State.AsOfDate
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("cortexflow · %s · %s", req.Subject, req.AsOfDate)))
	res, runErr := sess.Run(ctx, req)
	stopStream()

	if res != nil {
		fmt.Fprintln(out, renderResult(res))
	}
	if runErr != nil {
		if res != nil && res.RunID != "" {
			fmt.Fprintln(out, pendingStyle.Render("resume with: cortexflow resume "+res.RunID))
		}
		return runErr
	}
	return nil
}

func isLiveBroker(cfg *config.Config) bool {
	return cfg.Broker != "" && cfg.Broker != "paper"
}

func newCheckpointCmd(st *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect run checkpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN_ID",
		Short: "List the retained checkpoints of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCheckpoints(cmd.Context(), cmd.OutOrStdout(), st.cfg, args[0])
		},
	})
	return cmd
}

func showCheckpoints(ctx context.Context, w io.Writer, cfg *config.Config, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, _, err := checkpoint.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.History(ctx, runID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("run %s has no checkpoint", runID)
	}
	fmt.Fprintln(w, renderCheckpoints(runID, history))
	return nil
}

func newHistoryCmd(st *appState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd.Context(), cmd.OutOrStdout(), st.cfg, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func showHistory(ctx context.Context, w io.Writer, cfg *config.Config, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.AuditBackend != "sqlite" {
		return fmt.Errorf("history needs the sqlite audit backend, configured %q", cfg.AuditBackend)
	}
	store, err := audit.OpenSQLite(cfg.AuditPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, pendingStyle.Render("no runs recorded"))
		return nil
	}
	fmt.Fprintln(w, renderHistory(rows))
	return nil
}

// newConfigCmd creates the config command
func newConfigCmd(st *appState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeConfig(cmd.OutOrStdout(), st.cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.cfg.Validate(); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("✗ "+err.Error()))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), completedStyle.Render("✓ configuration is valid"))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file in use",
		Run: func(cmd *cobra.Command, args []string) {
			if st.configPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(defaults and environment)")
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.configPath)
		},
	})

	return configCmd
}

// writeConfig prints cfg as JSON with credentials masked.
func writeConfig(w io.Writer, cfg *config.Config) error {
	masked := cfg.Redacted()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&masked)
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cortexflow %s\n", Version)
		},
	}
}
