package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/pipeline"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Band distribution and budget averages of the derived tables",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := pipeline.Summarize(ctx, st)
	if err != nil {
		return err
	}

	if stats.Applicants == 0 {
		fmt.Println("\n  No applicants loaded.")
		fmt.Println("  Load a dataset with `credengine run <path>`.")
		return nil
	}

	fmt.Println()
	fmt.Print(renderSummary(stats))
	if stats.RiskScores < stats.Applicants || stats.FinanceRows < stats.Applicants {
		fmt.Println(cli.RenderWarning("Derived tables lag the applicants; run `credengine score` and `credengine finance`."))
	}
	return nil
}

func renderSummary(stats model.SummaryStats) string {
	var b strings.Builder

	b.WriteString(cli.RenderTitle("CREDIT RISK SUMMARY"))
	b.WriteString("\n\n")

	b.WriteString(cli.RenderTable(cli.Table{
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Applicants", cli.FormatNumber(int64(stats.Applicants))},
			{"Risk scores", cli.FormatNumber(int64(stats.RiskScores))},
			{"Budget profiles", cli.FormatNumber(int64(stats.FinanceRows))},
			{"---"},
			{"Avg risk score", fmt.Sprintf("%.2f", stats.AvgRiskScore)},
			{"Avg monthly income", cli.FormatMoney(stats.AvgIncome)},
			{"Avg essentials (50%)", cli.FormatMoney(stats.AvgEssentials)},
			{"Avg wants (30%)", cli.FormatMoney(stats.AvgWants)},
			{"Avg savings (20%)", cli.FormatMoney(stats.AvgSavings)},
			{"Avg age", fmt.Sprintf("%.1f", stats.AvgAge)},
			{"Avg dependents", fmt.Sprintf("%.2f", stats.AvgDependents)},
		},
	}))
	b.WriteString("\n")

	rows := make([][]string, 0, len(model.Bands))
	for _, band := range model.Bands {
		rows = append(rows, []string{
			cli.RenderBand(band, true),
			cli.FormatNumber(int64(stats.BandCounts[band])),
			cli.FormatPercent(stats.BandShare(band)),
		})
	}
	b.WriteString(cli.RenderTable(cli.Table{
		Title:   "Risk bands",
		Headers: []string{"Band", "Applicants", "Share"},
		Rows:    rows,
	}))

	maxCount := 0
	for _, band := range model.Bands {
		maxCount = max(maxCount, stats.BandCounts[band])
	}
	b.WriteString("\n")
	for _, band := range model.Bands {
		label := fmt.Sprintf("%-6s", band)
		b.WriteString(cli.RenderHorizontalBar(label, float64(stats.BandCounts[band]), float64(maxCount), 40))
		b.WriteString("\n")
	}
	return b.String()
}
