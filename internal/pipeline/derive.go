package pipeline

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/credengine/internal/logging"
	"github.com/theirongolddev/credengine/internal/model"
	"github.com/theirongolddev/credengine/internal/scoring"
	"github.com/theirongolddev/credengine/internal/store"
)

// RunOptions controls a bulk derivation run.
type RunOptions struct {
	BatchSize int
	Progress  ProgressFunc
	Log       logrus.FieldLogger
}

// RunResult summarizes one bulk derivation run.
type RunResult struct {
	Stage    string
	Rows     int
	Batches  int
	Duration time.Duration
}

// ScoreAll recomputes the risk score of every stored applicant.
func ScoreAll(ctx context.Context, st *store.Store, opts RunOptions) (*RunResult, error) {
	return derive(ctx, st, StageRisk, opts,
		func(a model.Applicant) model.RiskScore {
			score, band := scoring.ScoreRisk(a)
			return model.RiskScore{ID: a.ID, Score: score, Band: band}
		},
		st.UpsertRiskScores,
	)
}

// ProfileAll recomputes the finance profile of every stored applicant.
func ProfileAll(ctx context.Context, st *store.Store, opts RunOptions) (*RunResult, error) {
	return derive(ctx, st, StageFinance, opts, scoring.FinanceProfile, st.UpsertFinanceMetrics)
}

type page struct {
	offset int
	rows   []model.Applicant
}

// derive pages through applicants by ascending id and writes compute's
// output for each page in its own transaction. One goroutine reads the
// next page while the other writes the current one.
func derive[T any](
	ctx context.Context,
	st *store.Store,
	stage string,
	opts RunOptions,
	compute func(model.Applicant) T,
	write func(context.Context, *sql.Tx, []T) error,
) (*RunResult, error) {
	started := time.Now()
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	total, err := st.CountApplicants(ctx)
	if err != nil {
		return nil, err
	}
	result := &RunResult{Stage: stage}

	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan page, 1)

	g.Go(func() error {
		defer close(pages)
		after := int64(math.MinInt64)
		offset := 0
		for {
			rows, err := st.ApplicantsAfter(gctx, after, size)
			if err != nil {
				return &BatchError{Stage: stage, Offset: offset, Size: size, Err: err}
			}
			if len(rows) == 0 {
				return nil
			}
			select {
			case pages <- page{offset: offset, rows: rows}:
			case <-gctx.Done():
				return nil
			}
			after = rows[len(rows)-1].ID
			offset += len(rows)
		}
	})

	g.Go(func() error {
		out := make([]T, 0, size)
		for p := range pages {
			out = out[:0]
			for _, a := range p.rows {
				out = append(out, compute(a))
			}
			err := st.WithTransaction(gctx, func(tx *sql.Tx) error {
				return write(gctx, tx, out)
			})
			if err != nil {
				return &BatchError{Stage: stage, Offset: p.offset, Size: len(p.rows), Err: err}
			}
			result.Rows += len(p.rows)
			result.Batches++
			if opts.Progress != nil {
				opts.Progress(result.Rows, max(total, result.Rows))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, &BatchError{Stage: stage, Offset: result.Rows, Err: err}
	}

	result.Duration = time.Since(started)
	log.WithFields(logrus.Fields{
		"stage":    stage,
		"rows":     result.Rows,
		"batches":  result.Batches,
		"duration": result.Duration.Round(time.Millisecond),
	}).Info("derivation complete")
	return result, nil
}
