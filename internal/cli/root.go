package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexflow/config"
	"github.com/dyike/cortexflow/internal/logging"
)

// appState is filled by the root command before any subcommand runs.
type appState struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	st := &appState{}

	rootCmd := &cobra.Command{
		Use:   "cortexflow",
		Short: "cortexflow - multi-stage trading decision pipeline",
		Long: `cortexflow runs analyst, debate, trader and risk stages over one subject and date,
checkpointing after every committed step so an interrupted run resumes where it stopped.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
	}

	rootCmd.AddCommand(newAnalyzeCmd(st))
	rootCmd.AddCommand(newResumeCmd(st))
	rootCmd.AddCommand(newCheckpointCmd(st))
	rootCmd.AddCommand(newHistoryCmd(st))
	rootCmd.AddCommand(newConfigCmd(st))
	rootCmd.AddCommand(newServeCmd(st))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Configuration file path")

	return rootCmd
}

func (st *appState) load() error {
	cfg, err := loadConfig(st.configPath)
	if err != nil {
		return err
	}
	if st.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	st.cfg = cfg
	st.logger = logging.New(cfg.LogLevel)
	slog.SetDefault(st.logger)
	return nil
}

// loadConfig reads path through a config.Manager, creating the file with
// environment-derived defaults when it does not exist yet. An empty path means
// defaults plus environment only.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	mgr, err := config.NewManager(config.WithConfigPath(path), config.WithInitialConfig(config.DefaultConfig()))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := mgr.Get()
	return &cfg, nil
}
