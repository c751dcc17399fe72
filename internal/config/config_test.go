package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docharbor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "server:\n  addr: \":9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "docharbor.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "docharbor/build:%s", cfg.Build.BuildImagePattern)
	assert.Equal(t, 2*time.Hour, cfg.Build.TimeBudget)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, slog.LevelInfo, cfg.Logging.SlogLevel())
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("DOCHARBOR_DB", "/data/builds.db")
	cfg, err := Load(writeFile(t, "storage:\n  database_path: ${DOCHARBOR_DB}\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/builds.db", cfg.Storage.DatabasePath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "build:\n  build_image_pattern: \"no-placeholder\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build_image_pattern")

	_, err = Load(writeFile(t, "logging:\n  format: xml\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [\n"))
	require.Error(t, err)
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := writeFile(t, "server:\n  addr: \":9090\"\n")
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
}

func TestMemoryBytes(t *testing.T) {
	assert.Equal(t, int64(4<<30), BuildConfig{MemoryLimit: "4g"}.MemoryBytes())
	assert.Equal(t, int64(512<<20), BuildConfig{MemoryLimit: "512m"}.MemoryBytes())
	assert.Equal(t, int64(1024), BuildConfig{MemoryLimit: "1024"}.MemoryBytes())
	assert.Equal(t, int64(0), BuildConfig{MemoryLimit: ""}.MemoryBytes())
	assert.Equal(t, int64(0), BuildConfig{MemoryLimit: "lots"}.MemoryBytes())
}

func TestSlogLevelMapping(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LoggingConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LoggingConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LoggingConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LoggingConfig{Level: "bogus"}.SlogLevel())
}
