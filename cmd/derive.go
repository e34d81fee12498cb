package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/pipeline"
	"github.com/theirongolddev/credengine/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute the risk score of every stored applicant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDerive(cmd, pipeline.StageRisk, pipeline.ScoreAll)
	},
}

var financeCmd = &cobra.Command{
	Use:   "finance",
	Short: "Recompute the 50/30/20 budget profile of every stored applicant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDerive(cmd, pipeline.StageFinance, pipeline.ProfileAll)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(financeCmd)
}

type deriveFunc func(ctx context.Context, st *store.Store, opts pipeline.RunOptions) (*pipeline.RunResult, error)

func runDerive(cmd *cobra.Command, stage string, fn deriveFunc) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := fn(ctx, st, pipeline.RunOptions{
		BatchSize: appCfg.Pipeline.BatchSize,
		Progress:  stageProgress(stage),
		Log:       newLogger(),
	})
	if err != nil {
		return err
	}

	infof("  %s: %s rows in %d batch(es), %s\n", stage,
		cli.FormatNumber(int64(res.Rows)), res.Batches, cli.FormatElapsed(res.Duration))
	return nil
}
