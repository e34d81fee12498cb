// Package cmd implements the credengine CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/config"
	"github.com/theirongolddev/credengine/internal/logging"
	"github.com/theirongolddev/credengine/internal/pipeline"
	"github.com/theirongolddev/credengine/internal/store"
)

var (
	flagDB         string
	flagConfigFile string
	flagBatchSize  int
	flagQuiet      bool
	flagLogLevel   string
)

// appCfg is the effective configuration: file, then environment, then flags.
var appCfg config.Config

var rootCmd = &cobra.Command{
	Use:               "credengine",
	Short:             "Credit risk and budget scoring engine",
	Long:              "Load applicant records, derive risk scores and budget profiles, and keep per-user credit scores current.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runSummary,
}

// Execute is the main entry point called from main.go. An interrupt
// cancels the running command; bulk stages stop after the current batch.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database DSN: SQLite path or postgres:// URL (default: data dir)")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default: "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().IntVar(&flagBatchSize, "batch-size", 0, "Rows per transaction (default: config or 5000)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path := flagConfigFile
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	if flagDB != "" {
		cfg.Database.DSN = flagDB
	}
	if cmd.Flags().Changed("batch-size") {
		if flagBatchSize <= 0 {
			return fmt.Errorf("--batch-size must be positive, got %d", flagBatchSize)
		}
		cfg.Pipeline.BatchSize = flagBatchSize
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	appCfg = cfg
	return nil
}

func newLogger() *logrus.Logger {
	return logging.New(appCfg.Logging.Level, appCfg.Logging.Format)
}

func dsn() string {
	if appCfg.Database.DSN != "" {
		return appCfg.Database.DSN
	}
	return pipeline.DefaultDBPath()
}

// openStore opens the configured store and applies pending migrations.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, dsn())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// stageProgress returns the stderr progress callback for one stage.
func stageProgress(stage string) pipeline.ProgressFunc {
	if flagQuiet {
		return nil
	}
	return func(current, total int) {
		fmt.Fprintf(os.Stderr, "\r  %-8s %s", stage, cli.RenderProgressBar(current, total, 30))
		if current >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func infof(format string, args ...any) {
	if flagQuiet {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}
