package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/store"
)

// Summarize reads the band distribution and finance averages back from the
// derived tables. Money averages are rounded to cents.
func Summarize(ctx context.Context, st *store.Store) (model.SummaryStats, error) {
	stats, err := st.Summary(ctx)
	if err != nil {
		return stats, fmt.Errorf("summarizing: %w", err)
	}
	for _, b := range model.Bands {
		if _, ok := stats.BandCounts[b]; !ok {
			stats.BandCounts[b] = 0
		}
	}
	stats.AvgIncome = stats.AvgIncome.Round(2)
	stats.AvgEssentials = stats.AvgEssentials.Round(2)
	stats.AvgWants = stats.AvgWants.Round(2)
	stats.AvgSavings = stats.AvgSavings.Round(2)
	return stats, nil
}

// RunConfig controls a full bulk run.
type RunConfig struct {
	// Dataset is loaded first when set.
	Dataset   string
	Force     bool
	BatchSize int
	// Progress, when set, returns the callback for a stage.
	Progress func(stage string) ProgressFunc
	Log      logrus.FieldLogger
}

// RunReport collects the stage results of a bulk run.
type RunReport struct {
	Load     *LoadResult
	Risk     *RunResult
	Finance  *RunResult
	Duration time.Duration
}

// Run loads the configured dataset, then derives risk scores and finance
// profiles for every stored applicant. Stages run in order and the first
// failure stops the run.
func Run(ctx context.Context, st *store.Store, cfg RunConfig) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{}

	progress := func(stage string) ProgressFunc {
		if cfg.Progress == nil {
			return nil
		}
		return cfg.Progress(stage)
	}

	if cfg.Dataset != "" {
		lr, err := Load(ctx, st, cfg.Dataset, LoadOptions{
			BatchSize: cfg.BatchSize,
			Force:     cfg.Force,
			Progress:  progress(StageLoad),
			Log:       cfg.Log,
		})
		report.Load = lr
		if err != nil {
			return report, err
		}
	}

	var err error
	report.Risk, err = ScoreAll(ctx, st, RunOptions{BatchSize: cfg.BatchSize, Progress: progress(StageRisk), Log: cfg.Log})
	if err != nil {
		return report, err
	}
	report.Finance, err = ProfileAll(ctx, st, RunOptions{BatchSize: cfg.BatchSize, Progress: progress(StageFinance), Log: cfg.Log})
	if err != nil {
		return report, err
	}

	report.Duration = time.Since(started)
	return report, nil
}
