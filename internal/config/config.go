// Package config loads fabric instance configuration from CUE files.
//
// A user file is unified against the embedded #Config schema, so defaults
// and constraints live in one place (schema.cue) instead of scattered Go
// validation code.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/loomworks/weft/internal/journal"
)

//go:embed schema.cue
var schemaCUE string

// Config is a fully resolved fabric instance configuration.
type Config struct {
	// NodeID identifies this instance in timestamps.
	NodeID string `json:"node_id"`
	// Backend selects the journal implementation: file, memory, or sqlite.
	Backend string `json:"backend"`
	// Dir holds journal data for the file and sqlite backends.
	Dir string `json:"dir"`
	// SyncPolicy is "always" or "buffered".
	SyncPolicy string `json:"sync_policy"`
	// MaxDriftMS bounds tolerated clock skew; 0 disables rejection.
	MaxDriftMS int64 `json:"max_drift_ms"`
	// SubscriberBuffer is the per-subscription channel capacity.
	SubscriberBuffer int `json:"subscriber_buffer"`
	// LogLevel is the minimum slog level: debug, info, warn, or error.
	LogLevel string `json:"log_level"`
}

// Default returns the configuration the schema produces for a bare
// node_id, matching schema.cue's defaults.
func Default(nodeID string) Config {
	return Config{
		NodeID:           nodeID,
		Backend:          "file",
		Dir:              "weft-data",
		SyncPolicy:       "always",
		MaxDriftMS:       500,
		SubscriberBuffer: 64,
		LogLevel:         "info",
	}
}

// Load reads a CUE configuration file, unifies it against the embedded
// schema, and decodes the result. Schema violations (unknown fields,
// wrong types, out-of-range values) surface as errors with CUE's own
// positional messages.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies raw CUE source against the schema and decodes it.
// filename is used in error positions only.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return Config{}, fmt.Errorf("embedded schema has no #Config definition")
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filename, err)
	}

	unified := def.Unify(user)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return Config{}, fmt.Errorf("validate %s: %w", filename, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", filename, err)
	}
	return cfg, nil
}

// SlogLevel converts LogLevel to its slog equivalent.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParsedSyncPolicy converts SyncPolicy to the journal type. The schema
// already restricts the value, so errors indicate a hand-built Config.
func (c Config) ParsedSyncPolicy() (journal.SyncPolicy, error) {
	return journal.ParseSyncPolicy(c.SyncPolicy)
}
