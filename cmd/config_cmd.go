package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/config"
	"github.com/theirongolddev/credengine/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appCfg

	path := flagConfigFile
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("  Config file: %s\n", path)
	if fileExists(path) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [Database]")
	fmt.Printf("    DSN:     %s\n", redactDSN(dsn()))
	fmt.Printf("    Backend: %s\n", store.DialectOf(dsn()))
	fmt.Println()

	fmt.Println("  [Pipeline]")
	fmt.Printf("    Batch size: %d\n", cfg.Pipeline.BatchSize)
	if cfg.Pipeline.DatasetPath != "" {
		fmt.Printf("    Dataset:    %s\n", cfg.Pipeline.DatasetPath)
	} else {
		fmt.Println("    Dataset:    not configured")
	}
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:       %s\n", cfg.Daemon.Addr)
	if cfg.Daemon.Schedule != "" {
		fmt.Printf("    Schedule:      %s\n", cfg.Daemon.Schedule)
	} else {
		fmt.Println("    Schedule:      disabled")
	}
	if cfg.Daemon.Timezone != "" {
		fmt.Printf("    Timezone:      %s\n", cfg.Daemon.Timezone)
	}
	fmt.Printf("    Events buffer: %d\n", cfg.Daemon.EventsBuffer)
	fmt.Println()

	fmt.Println("  [Logging]")
	fmt.Printf("    Level:  %s\n", cfg.Logging.Level)
	fmt.Printf("    Format: %s\n", cfg.Logging.Format)
	fmt.Println()

	fmt.Println("  Run `credengine setup` to reconfigure.")
	return nil
}

// redactDSN hides the password of a Postgres URL.
func redactDSN(dsn string) string {
	if store.DialectOf(dsn) != store.Postgres {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "postgres://****"
	}
	return u.Redacted()
}
