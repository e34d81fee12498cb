package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var datasetExts = map[string]bool{
	".csv":  true,
	".xlsx": true,
}

// IsDataset reports whether path has a supported dataset extension.
func IsDataset(path string) bool {
	return datasetExts[strings.ToLower(filepath.Ext(path))]
}

// Discover resolves path into the dataset files to load. A file is returned
// as-is; a directory is walked for supported files in lexical order.
func Discover(path string) ([]DiscoveredFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !IsDataset(path) {
			return nil, fmt.Errorf("%s: unsupported dataset type %q", path, filepath.Ext(path))
		}
		return []DiscoveredFile{{Path: path, Size: info.Size(), ModTime: info.ModTime()}}, nil
	}
	return ScanDir(path)
}

// ScanDir walks dir and returns every supported dataset file, sorted by path.
func ScanDir(dir string) ([]DiscoveredFile, error) {
	var files []DiscoveredFile

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // intentionally skip unreadable entries
		}
		if d.IsDir() || !IsDataset(path) {
			return nil
		}
		// Office lock files share the extension.
		if strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // vanished between readdir and stat
		}
		files = append(files, DiscoveredFile{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}
