package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/config"
	"github.com/theirongolddev/credengine/internal/source"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	path := flagConfigFile
	if path == "" {
		path = config.ConfigPath()
	}

	// Start from the file alone so environment overrides are not persisted.
	cfg := config.DefaultConfig()
	if fileExists(path) {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	batch := strconv.Itoa(cfg.Pipeline.BatchSize)
	schedule := cfg.Daemon.Schedule

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to credengine!").
				Description("Pick where scores are stored and where applicant records come from."),
			huh.NewInput().
				Title("Database").
				Description("SQLite file path or postgres:// URL. Leave blank for the default data directory.").
				Value(&cfg.Database.DSN),
			huh.NewInput().
				Title("Dataset").
				Description("CSV/XLSX file or directory loaded by `credengine run`.").
				Value(&cfg.Pipeline.DatasetPath).
				Validate(validateDataset),
			huh.NewInput().
				Title("Batch size").
				Value(&batch).
				Validate(validateBatchSize),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Daemon address").
				Value(&cfg.Daemon.Addr),
			huh.NewInput().
				Title("Bulk run schedule").
				Description("Cron spec such as @daily or 0 2 * * *. Leave blank to disable.").
				Value(&schedule).
				Validate(validateSchedule),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&cfg.Logging.Format),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&cfg.Logging.Level),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup canceled; nothing saved.")
			return nil
		}
		return err
	}

	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	cfg.Pipeline.DatasetPath = strings.TrimSpace(cfg.Pipeline.DatasetPath)
	cfg.Pipeline.BatchSize, _ = strconv.Atoi(strings.TrimSpace(batch))
	cfg.Daemon.Schedule = strings.TrimSpace(schedule)

	if err := config.SaveFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", path)
	fmt.Println("  Run `credengine setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}

func validateDataset(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := source.Discover(s); err != nil {
		return err
	}
	return nil
}

func validateBatchSize(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}

func validateSchedule(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := cron.ParseStandard(s); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
