// Package cli implements the portal's command line: the server itself and a
// few maintenance commands that operate on the configured store.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

// flags holds the persistent flags shared by every command.
type flags struct {
	configPath    string
	addr          string
	storageDriver string
	storagePath   string
	dsn           string
	logLevel      string
	logFormat     string
}

// app is the state built by the root command before a sub-command runs.
type app struct {
	flags  flags
	lookup func(string) (string, bool)
	cfg    *config.Config
	logger logging.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Configuration is loaded from
// defaults, the --config file, the environment and finally flags.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{lookup: os.LookupEnv})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "portal",
		Short: "Themed portal with sessions, statistics and real-time chat",
		Long: `Runs the portal HTTP API and its real-time chat channel.

Quick Start:
  portal serve --addr :3000                # Start the server
  portal users add --email a@b.c --role admin1
  portal stats                             # Print the counters`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Path to a YAML configuration file")
	pf.StringVar(&a.flags.addr, "addr", "", "Listen address, e.g. :3000")
	pf.StringVar(&a.flags.storageDriver, "storage-driver", "", "Storage backend: memory, file, sqlite, postgres or s3")
	pf.StringVar(&a.flags.storagePath, "storage-path", "", "Document file (file driver) or database file (sqlite driver)")
	pf.StringVar(&a.flags.dsn, "dsn", "", "Database DSN for the sqlite and postgres drivers")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: json or text")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCommand(a),
		newStatsCommand(a),
		newUsersCommand(a),
		newMigrateCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath, a.lookup)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Addr = a.flags.addr
	}
	if f.Changed("storage-driver") {
		cfg.Storage.Driver = a.flags.storageDriver
	}
	if f.Changed("storage-path") {
		cfg.Storage.Path = a.flags.storagePath
	}
	if f.Changed("dsn") {
		cfg.Storage.DSN = a.flags.dsn
	}
	if f.Changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = a.flags.logFormat
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.New(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	return nil
}

// openStore opens the configured backend and seeds it on first use.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	backend, err := store.NewBackend(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", a.cfg.Storage.Driver, err)
	}

	var seed *models.Document
	if a.cfg.Storage.SeedFile != "" {
		seed, err = store.ReadSeedFile(a.cfg.Storage.SeedFile)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	st, err := store.Open(ctx, backend, seed, a.logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}
