package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/pipeline"
)

var flagRunForce bool

var runCmd = &cobra.Command{
	Use:   "run [dataset]",
	Short: "Load a dataset, then derive risk scores and budget profiles",
	Long: "Run the full bulk pipeline. The dataset defaults to pipeline.dataset_path " +
		"from the config; without one, only the derivation stages run. Dataset files " +
		"unchanged since the last load are skipped; --force reloads them and restores rows " +
		"edited in the store.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&flagRunForce, "force", false, "Reload dataset files even if unchanged, overwriting rows edited in the store")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dataset := appCfg.Pipeline.DatasetPath
	if len(args) == 1 {
		dataset = args[0]
	}

	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := pipeline.Run(ctx, st, pipeline.RunConfig{
		Dataset:   dataset,
		Force:     flagRunForce,
		BatchSize: appCfg.Pipeline.BatchSize,
		Progress:  stageProgress,
		Log:       newLogger(),
	})
	if report != nil {
		printLoadResult(report.Load)
	}
	if err != nil {
		return withResumeHint(err)
	}

	infof("  Scored %s applicants, profiled %s in %s\n",
		cli.FormatNumber(int64(report.Risk.Rows)),
		cli.FormatNumber(int64(report.Finance.Rows)),
		cli.FormatElapsed(report.Duration))

	stats, err := pipeline.Summarize(ctx, st)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Print(renderSummary(stats))
	return nil
}
