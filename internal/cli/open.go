package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomworks/weft/internal/clock"
	"github.com/loomworks/weft/internal/config"
	"github.com/loomworks/weft/internal/fabric"
	"github.com/loomworks/weft/internal/journal"
	"github.com/loomworks/weft/internal/router"
)

// loadConfig resolves the effective configuration: the --config file when
// given, built-in defaults otherwise.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default("loom"), nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openJournal builds the configured journal backend.
func openJournal(cfg config.Config) (journal.Journal, error) {
	policy, err := cfg.ParsedSyncPolicy()
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "memory":
		return journal.NewMemory(), nil
	case "file":
		return journal.OpenFile(journal.FileOptions{
			Dir:        cfg.Dir,
			SyncPolicy: policy,
		})
	case "sqlite":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		return journal.OpenSQLite(filepath.Join(cfg.Dir, "weft.db"), policy)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openFabric assembles a fabric from the effective configuration and
// recovers it. The returned close function releases the journal.
func openFabric(ctx context.Context, opts *RootOptions) (*fabric.Fabric, func() error, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load config", err)
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open journal", err)
	}

	fab := fabric.New(
		clock.New(cfg.NodeID, cfg.MaxDriftMS),
		jnl,
		router.New(cfg.SubscriberBuffer),
	)
	if _, err := fab.Recover(ctx, nil); err != nil {
		_ = jnl.Close()
		return nil, nil, WrapExitError(ExitFailure, "recover fabric", err)
	}
	return fab, fab.Close, nil
}

// newFormatter builds the command's output formatter.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *Formatter {
	return &Formatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
}
