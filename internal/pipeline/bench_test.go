package pipeline

import (
	"context"
	"testing"

	"github.com/theirongolddev/credengine/internal/source"
)

func benchDataset(b *testing.B, n int) string {
	b.Helper()
	return writeCSV(b, b.TempDir(), "bench.csv", sequentialRows(n)...)
}

func BenchmarkParseFile(b *testing.B) {
	path := benchDataset(b, 20000)
	files, err := source.Discover(path)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := source.ParseFile(files[0]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLoad(b *testing.B) {
	path := benchDataset(b, 20000)
	st := openStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Load(context.Background(), st, path, LoadOptions{Force: true}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScoreAll(b *testing.B) {
	path := benchDataset(b, 20000)
	st := openStore(b)
	if _, err := Load(context.Background(), st, path, LoadOptions{}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ScoreAll(context.Background(), st, RunOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScanDir(b *testing.B) {
	dir := b.TempDir()
	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		writeCSV(b, dir, name, sequentialRows(10)...)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := source.ScanDir(dir); err != nil {
			b.Fatal(err)
		}
	}
}
