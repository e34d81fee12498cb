package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDatabase, EnvDataset, EnvBatch, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestLoadFile_MissingReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://credit:secret@db:5432/credit"
	cfg.Pipeline.BatchSize = 250
	cfg.Pipeline.DatasetPath = "/data/application_record.csv"
	cfg.Daemon.Schedule = "@daily"
	cfg.Daemon.Timezone = "Asia/Kolkata"
	cfg.Logging.Format = "json"
	require.NoError(t, SaveFile(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nschedule = \"0 2 * * *\"\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", cfg.Daemon.Schedule)
	assert.Equal(t, "127.0.0.1:8787", cfg.Daemon.Addr)
	assert.Equal(t, 5000, cfg.Pipeline.BatchSize)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\ndsn = \"file.db\"\n[logging]\nlevel = \"warn\"\n"), 0o600))

	t.Setenv(EnvDatabase, "postgresql://localhost/credit")
	t.Setenv(EnvDataset, "records.xlsx")
	t.Setenv(EnvBatch, "64")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgresql://localhost/credit", cfg.Database.DSN)
	assert.Equal(t, "records.xlsx", cfg.Pipeline.DatasetPath)
	assert.Equal(t, 64, cfg.Pipeline.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[pipeline\nbatch_size = 1"), 0o600))
	_, err := LoadFile(bad)
	assert.ErrorContains(t, err, "parsing config")

	t.Setenv(EnvBatch, "zero")
	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, EnvBatch)
}

func TestConfigPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "credengine", "config.toml"), ConfigPath())
	assert.False(t, Exists())

	require.NoError(t, Save(DefaultConfig()))
	assert.True(t, Exists())
}
