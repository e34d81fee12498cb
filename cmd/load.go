package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/pipeline"
)

var (
	flagLoadForce  bool
	flagResumeFrom int
)

var loadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "Load applicant records from a CSV/XLSX file or directory",
	Long: "Upsert applicant records by ID. Files whose size and modification time match the " +
		"last successful load are skipped without reading them, so rows edited directly in " +
		"the store are not restored; use --force to overwrite them from the file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func init() {
	loadCmd.Flags().BoolVar(&flagLoadForce, "force", false, "Reload files even if unchanged, overwriting rows edited in the store")
	loadCmd.Flags().IntVar(&flagResumeFrom, "resume-from", 0, "Skip the first N rows (resume after a failed batch)")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	if flagResumeFrom < 0 {
		return fmt.Errorf("--resume-from must not be negative, got %d", flagResumeFrom)
	}

	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := pipeline.Load(ctx, st, args[0], pipeline.LoadOptions{
		BatchSize:   appCfg.Pipeline.BatchSize,
		StartOffset: flagResumeFrom,
		Force:       flagLoadForce,
		Progress:    stageProgress(pipeline.StageLoad),
		Log:         newLogger(),
	})
	if err != nil {
		return withResumeHint(err)
	}

	printLoadResult(res)
	return nil
}

func printLoadResult(res *pipeline.LoadResult) {
	if res == nil {
		return
	}
	if res.TotalFiles > 0 && res.Unchanged == res.TotalFiles {
		infof("  All %d dataset file(s) unchanged since the last load; stored rows were not re-checked\n", res.TotalFiles)
		infof("  Use --force to overwrite stored rows from the file(s)\n")
		return
	}
	infof("  Loaded %s rows from %d of %d file(s)\n",
		cli.FormatNumber(int64(res.Rows)), res.LoadedFiles, res.TotalFiles)
	if res.SkippedRows > 0 {
		infof("%s\n", cli.RenderWarning(fmt.Sprintf("%s rows skipped (missing or invalid ID)",
			cli.FormatNumber(int64(res.SkippedRows)))))
	}
	if res.CoercedCells > 0 {
		infof("%s\n", cli.RenderWarning(fmt.Sprintf("%s malformed cells read as absent",
			cli.FormatNumber(int64(res.CoercedCells)))))
	}
}

// withResumeHint adds the --resume-from value to a failed load batch.
func withResumeHint(err error) error {
	var be *pipeline.BatchError
	if errors.As(err, &be) && be.Stage == pipeline.StageLoad && be.Path != "" {
		return fmt.Errorf("%w\n  rerun with: credengine load %s --resume-from %d", err, be.Path, be.Offset)
	}
	return err
}
