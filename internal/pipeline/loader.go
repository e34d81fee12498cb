// Package pipeline moves applicant records from dataset files into the
// store and derives the bulk score tables from them.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/theirongolddev/credengine/internal/logging"
	"github.com/theirongolddev/credengine/internal/source"
	"github.com/theirongolddev/credengine/internal/store"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 5000

// Stage names reported in BatchError and progress callbacks.
const (
	StageLoad    = "load"
	StageRisk    = "risk"
	StageFinance = "finance"
)

// ProgressFunc is called after each committed batch.
// current is the number of rows committed so far, total is the row count.
type ProgressFunc func(current, total int)

// BatchError reports the batch that failed. Batches before Offset are
// committed; rerunning with the same input from Offset completes the run.
type BatchError struct {
	Stage  string
	Path   string
	Offset int
	Size   int
	Err    error
}

func (e *BatchError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s batch at offset %d (%d rows) in %s: %v", e.Stage, e.Offset, e.Size, e.Path, e.Err)
	}
	return fmt.Sprintf("%s batch at offset %d (%d rows): %v", e.Stage, e.Offset, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// LoadOptions controls a Load call.
type LoadOptions struct {
	BatchSize int
	// StartOffset skips the first rows of the dataset, resuming after a
	// BatchError. Only valid when a single file is loaded.
	StartOffset int
	// Force reloads files the tracker reports as unchanged, overwriting
	// any stored rows edited since the last load. Their tracker rows are
	// cleared first.
	Force    bool
	Progress ProgressFunc
	Log      logrus.FieldLogger
}

func (o LoadOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o LoadOptions) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logging.Discard()
	}
	return o.Log
}

// FileResult describes what happened to one dataset file.
type FileResult struct {
	Path         string
	Unchanged    bool
	Rows         int
	SkippedRows  int
	CoercedCells int
}

// LoadResult holds the output of a Load call.
type LoadResult struct {
	Files        []FileResult
	TotalFiles   int
	LoadedFiles  int
	Unchanged    int
	Rows         int
	SkippedRows  int
	CoercedCells int
}

// Load reads the dataset at path (a .csv or .xlsx file, or a directory of
// them) and upserts every applicant into the store in batches, one
// transaction per batch. Files are processed in path order, so a later
// file overwrites ids it shares with an earlier one.
//
// Every file is parsed before the first batch is written; a missing
// column fails the call without touching the store.
func Load(ctx context.Context, st *store.Store, path string, opts LoadOptions) (*LoadResult, error) {
	log := opts.logger()

	files, err := source.Discover(path)
	if err != nil {
		return nil, fmt.Errorf("discovering datasets in %s: %w", path, err)
	}
	if opts.StartOffset > 0 && len(files) > 1 {
		return nil, fmt.Errorf("resume offset %d needs a single dataset file, %s has %d", opts.StartOffset, path, len(files))
	}

	result := &LoadResult{TotalFiles: len(files)}
	if len(files) == 0 {
		return result, nil
	}

	toLoad, err := changedFiles(ctx, st, files, opts.Force)
	if err != nil {
		return nil, err
	}

	var parsed []*source.ParseResult
	for _, f := range files {
		if !toLoad[f.Path] {
			result.Unchanged++
			result.Files = append(result.Files, FileResult{Path: f.Path, Unchanged: true})
			log.WithField("file", f.Path).Debug("dataset unchanged, skipping")
			continue
		}
		pr, err := source.ParseFile(f)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, pr)
	}

	total := 0
	for _, pr := range parsed {
		total += len(pr.Applicants)
	}
	if len(parsed) > 0 && opts.StartOffset > total {
		return nil, fmt.Errorf("resume offset %d is past the end of the dataset (%d rows)", opts.StartOffset, total)
	}

	done := opts.StartOffset
	for _, pr := range parsed {
		fr := FileResult{Path: pr.File.Path, SkippedRows: pr.SkippedRows, CoercedCells: pr.CoercedCells}

		// A forced reload that fails part way must not leave the old
		// tracker row claiming the file is in the store.
		if opts.Force {
			if err := st.ForgetDataset(ctx, pr.File.Path); err != nil {
				return result, fmt.Errorf("clearing dataset tracker for %s: %w", pr.File.Path, err)
			}
		}

		n, err := loadFile(ctx, st, pr, opts, func(committed int) {
			if opts.Progress != nil {
				opts.Progress(done+committed, total)
			}
		})
		if err != nil {
			return result, err
		}
		done += n
		fr.Rows = n

		err = st.TrackDataset(ctx, store.TrackedDataset{
			Path:      pr.File.Path,
			SizeBytes: pr.File.Size,
			MtimeNs:   pr.File.ModTime.UnixNano(),
			Rows:      len(pr.Applicants),
		})
		if err != nil {
			return result, err
		}

		log.WithFields(logrus.Fields{
			"file":    pr.File.Path,
			"rows":    n,
			"skipped": pr.SkippedRows,
			"coerced": pr.CoercedCells,
		}).Info("dataset loaded")

		result.Files = append(result.Files, fr)
		result.LoadedFiles++
		result.Rows += n
		result.SkippedRows += pr.SkippedRows
		result.CoercedCells += pr.CoercedCells
	}

	return result, nil
}

// loadFile writes the applicants of one parsed file from opts.StartOffset
// onward and returns the number of rows committed.
func loadFile(ctx context.Context, st *store.Store, pr *source.ParseResult, opts LoadOptions, progress func(int)) (int, error) {
	rows := pr.Applicants
	size := opts.batchSize()
	start := min(opts.StartOffset, len(rows))

	committed := 0
	for off := start; off < len(rows); off += size {
		end := min(off+size, len(rows))
		batch := rows[off:end]

		if err := ctx.Err(); err != nil {
			return committed, &BatchError{Stage: StageLoad, Path: pr.File.Path, Offset: off, Size: len(batch), Err: err}
		}

		err := st.WithTransaction(ctx, func(tx *sql.Tx) error {
			return st.UpsertApplicants(ctx, tx, batch)
		})
		if err != nil {
			return committed, &BatchError{Stage: StageLoad, Path: pr.File.Path, Offset: off, Size: len(batch), Err: err}
		}

		committed += len(batch)
		progress(committed)
	}
	return committed, nil
}
