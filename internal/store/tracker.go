package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TrackedDataset records the file identity of a fully loaded dataset.
type TrackedDataset struct {
	Path      string
	SizeBytes int64
	MtimeNs   int64
	Rows      int
	LoadedAt  time.Time
}

// Matches reports whether a file with the given size and mtime is the one
// that was loaded.
func (d TrackedDataset) Matches(size int64, mtime time.Time) bool {
	return d.SizeBytes == size && d.MtimeNs == mtime.UnixNano()
}

// GetTrackedDataset returns the tracker entry for path.
func (s *Store) GetTrackedDataset(ctx context.Context, path string) (TrackedDataset, error) {
	d := TrackedDataset{Path: path}
	var loaded int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT size_bytes, mtime_ns, row_count, loaded_at
		FROM dataset_tracker WHERE path = ?`), path).
		Scan(&d.SizeBytes, &d.MtimeNs, &d.Rows, &loaded)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackedDataset{}, fmt.Errorf("dataset %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return TrackedDataset{}, fmt.Errorf("reading dataset tracker: %w", err)
	}
	d.LoadedAt = time.Unix(loaded, 0).UTC()
	return d, nil
}

// TrackDataset records that path was loaded completely.
func (s *Store) TrackDataset(ctx context.Context, d TrackedDataset) error {
	loaded := d.LoadedAt
	if loaded.IsZero() {
		loaded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO dataset_tracker (path, size_bytes, mtime_ns, row_count, loaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
		size_bytes = excluded.size_bytes,
		mtime_ns = excluded.mtime_ns,
		row_count = excluded.row_count,
		loaded_at = excluded.loaded_at`),
		d.Path, d.SizeBytes, d.MtimeNs, d.Rows, loaded.UTC().Unix())
	if err != nil {
		return fmt.Errorf("tracking dataset %s: %w", d.Path, err)
	}
	return nil
}

// ForgetDataset removes the tracker entry for path.
func (s *Store) ForgetDataset(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM dataset_tracker WHERE path = ?`), path)
	return err
}
