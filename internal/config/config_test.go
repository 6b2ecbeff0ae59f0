package config

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/internal/journal"
)

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.cue"))
	require.NoError(t, err)

	assert.Equal(t, "loom-a", cfg.NodeID)
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, "/var/lib/weft", cfg.Dir)
	assert.Equal(t, "buffered", cfg.SyncPolicy)
	assert.Equal(t, int64(250), cfg.MaxDriftMS)
	assert.Equal(t, 128, cfg.SubscriberBuffer)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "minimal.cue"))
	require.NoError(t, err)

	assert.Equal(t, "loom-b", cfg.NodeID)
	assert.Equal(t, Default("loom-b"), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "nope.cue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing node_id", `backend: "memory"`},
		{"empty node_id", `node_id: ""`},
		{"unknown backend", `node_id: "n", backend: "etcd"`},
		{"unknown field", `node_id: "n", shard_count: 4`},
		{"negative drift", `node_id: "n", max_drift_ms: -1`},
		{"zero buffer", `node_id: "n", subscriber_buffer: 0`},
		{"bad sync policy", `node_id: "n", sync_policy: "sometimes"`},
		{"not cue", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "inline.cue")
			assert.Error(t, err)
		})
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Config{LogLevel: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Config{LogLevel: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, Config{LogLevel: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: "info"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Config{}.SlogLevel())
}

func TestConfig_ParsedSyncPolicy(t *testing.T) {
	p, err := Config{SyncPolicy: "buffered"}.ParsedSyncPolicy()
	require.NoError(t, err)
	assert.Equal(t, journal.SyncBuffered, p)

	_, err = Config{SyncPolicy: "sometimes"}.ParsedSyncPolicy()
	assert.Error(t, err)
}
