package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theirongolddev/credengine/internal/source"
	"github.com/theirongolddev/credengine/internal/store"
)

// changedFiles diffs the discovered files against the dataset tracker and
// returns the set of paths that need loading. With force every file does.
func changedFiles(ctx context.Context, st *store.Store, files []source.DiscoveredFile, force bool) (map[string]bool, error) {
	out := make(map[string]bool, len(files))
	for _, f := range files {
		if force {
			out[f.Path] = true
			continue
		}
		tracked, err := st.GetTrackedDataset(ctx, f.Path)
		if errors.Is(err, store.ErrNotFound) {
			out[f.Path] = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading dataset tracker: %w", err)
		}
		out[f.Path] = !tracked.Matches(f.Size, f.ModTime)
	}
	return out, nil
}

// DataDir returns the platform-appropriate data directory.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "credengine")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "credengine")
}

// DefaultDBPath returns the SQLite database used when no DSN is configured.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "credengine.db")
}
