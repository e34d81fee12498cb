package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSchema(cmd, func(st *store.Store) error {
			if err := st.MigrateUp(); err != nil {
				return err
			}
			return printMigrationStatus(st)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [n]",
	Short: "Roll back the last n migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			steps = n
		}
		return withSchema(cmd, func(st *store.Store) error {
			if err := st.MigrateDown(steps); err != nil {
				return err
			}
			return printMigrationStatus(st)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSchema(cmd, printMigrationStatus)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withSchema opens the store without applying migrations.
func withSchema(cmd *cobra.Command, fn func(*store.Store) error) error {
	st, err := store.OpenNoMigrate(cmd.Context(), dsn())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func printMigrationStatus(st *store.Store) error {
	ms, err := st.MigrateStatus()
	if err != nil {
		return err
	}

	fmt.Printf("  Database: %s (%s)\n", redactDSN(dsn()), st.Dialect())
	switch {
	case !ms.Applied:
		fmt.Printf("  Schema: empty (latest %d)\n", ms.Latest)
	case ms.Dirty:
		fmt.Printf("  Schema: version %d, DIRTY (latest %d)\n", ms.Version, ms.Latest)
	case ms.Version < ms.Latest:
		fmt.Printf("  Schema: version %d, %d pending\n", ms.Version, ms.Latest-ms.Version)
	default:
		fmt.Printf("  Schema: version %d, up to date\n", ms.Version)
	}
	return nil
}
