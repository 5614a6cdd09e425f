package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Session.Store)
	assert.Equal(t, LockRedis, cfg.Session.Lock)
	assert.Equal(t, 50, cfg.Session.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.Engine.TurnTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Engine.IdleTimeout)
	assert.Equal(t, SourcePostgres, cfg.Graph.Source)
}

func TestFileThenEnv(t *testing.T) {
	path := writeFile(t, `
addr: ":9000"
redisAddr: ""
session:
  store: memory
  lock: local
  historyLimit: 10
graph:
  source: file
  dir: ./workflows
engine:
  turnTimeout: 2s
  idleTimeout: 0s
`)

	cfg, err := Load(path, env(map[string]string{
		"ADDR":         ":7000",
		"TURN_TIMEOUT": "750ms",
		"OTEL_ENABLED": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Session.Store)
	assert.Equal(t, LockLocal, cfg.Session.Lock)
	assert.Equal(t, 10, cfg.Session.HistoryLimit)
	assert.Equal(t, "./workflows", cfg.Graph.Dir)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.TurnTimeout)
	assert.Zero(t, cfg.Engine.IdleTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.RedisAddr)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"unknown store", "session:\n  store: sqlite\n", nil},
		{"file source without dir", "graph:\n  source: file\n", nil},
		{"redis lock without redis", "redisAddr: \"\"\n", nil},
		{"zero history", "session:\n  historyLimit: 0\n", nil},
		{"bad duration env", "", map[string]string{"IDLE_TIMEOUT": "soon"}},
		{"bad bool env", "", map[string]string{"OTEL_ENABLED": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, tt.yaml)
			}
			_, err := Load(path, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
	assert.Error(t, err)
}
