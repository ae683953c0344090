// Package main is the bxindexd command line tool: the operator-facing
// front end over internal/bxindex, in the shape of the teacher's
// cmd/bd/main.go root command (persistent flags, a signal-aware root
// context built with signal.NotifyContext, and one cobra.Command per
// subcommand file registered from that file's own init()).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskvault/bxindex/internal/backend"
	"github.com/duskvault/bxindex/internal/bxconfig"
	"github.com/duskvault/bxindex/internal/bxindex"
)

// rootCtx is cancelled on SIGINT/SIGTERM; every subcommand that blocks
// (serve) watches it instead of installing its own signal handler.
var (
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// Flags shared across subcommands, mirroring cmd/bd's package-level
// flag vars read inside each command's RunE rather than threaded
// through function arguments.
var (
	flagConfigFile      string
	flagBackendProfiles string
	flagBackendName     string
	flagBackendKind     string
	flagSQLitePath      string
	flagHost            string
	flagPort            int
	flagUser            string
	flagPassword        string
	flagDatabase        string
	flagEmbeddedDir     string
	flagJSON            bool
	flagVerbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "bxindexd",
	Short: "Backup index catalog daemon and admin CLI",
	Long: `bxindexd opens a backup index catalog (sqlite, dolt, or mysql) and
either serves it as a long-running process or runs one-shot
maintenance and inspection commands against it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a bxconfig YAML settings file")
	rootCmd.PersistentFlags().StringVar(&flagBackendProfiles, "backend-profiles", "", "path to a TOML file of named backend connection profiles")
	rootCmd.PersistentFlags().StringVar(&flagBackendName, "backend", "", "named backend profile from --backend-profiles to use, instead of the flags below")
	rootCmd.PersistentFlags().StringVar(&flagBackendKind, "kind", "sqlite", "backend kind: sqlite, dolt, or mysql")
	rootCmd.PersistentFlags().StringVar(&flagSQLitePath, "sqlite-path", ":memory:", "sqlite database file path (kind=sqlite)")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "127.0.0.1", "server host (kind=dolt or mysql)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 3306, "server port (kind=dolt or mysql)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "root", "server user (kind=dolt or mysql)")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "server password (kind=dolt or mysql)")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "bxindex", "database name (kind=dolt or mysql)")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddedDir, "embedded-dir", "", "local data directory for embedded dolt mode (kind=dolt)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print machine-readable JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// backendOptions resolves the selected backend from either a named
// profile (--backend, looked up in --backend-profiles) or the
// individual --kind/--sqlite-path/--host/... flags.
func backendOptions() (backend.Options, error) {
	if flagBackendName != "" {
		if flagBackendProfiles == "" {
			return backend.Options{}, fmt.Errorf("--backend requires --backend-profiles")
		}
		profiles, err := bxconfig.LoadBackendProfiles(flagBackendProfiles)
		if err != nil {
			return backend.Options{}, err
		}
		profile, ok := profiles[flagBackendName]
		if !ok {
			return backend.Options{}, fmt.Errorf("no backend profile named %q in %s", flagBackendName, flagBackendProfiles)
		}
		return dsnToOptions(profile)
	}

	switch backend.Kind(flagBackendKind) {
	case backend.KindSQLite:
		return backend.Options{Kind: backend.KindSQLite, SQLitePath: flagSQLitePath, BusyTimeout: 5 * time.Second}, nil
	case backend.KindDolt:
		return backend.Options{Kind: backend.KindDolt, Host: flagHost, Port: flagPort, User: flagUser, Password: flagPassword, Database: flagDatabase, EmbeddedDir: flagEmbeddedDir}, nil
	case backend.KindMySQL:
		return backend.Options{Kind: backend.KindMySQL, Host: flagHost, Port: flagPort, User: flagUser, Password: flagPassword, Database: flagDatabase}, nil
	default:
		return backend.Options{}, fmt.Errorf("unknown --kind %q (want sqlite, dolt, or mysql)", flagBackendKind)
	}
}

// dsnToOptions turns a bxconfig.BackendDSN profile into backend.Options.
// sqlite profiles store the file path in DSN; dolt/mysql profiles store
// a "user[:password]@tcp(host:port)/database" DSN.
func dsnToOptions(profile bxconfig.BackendDSN) (backend.Options, error) {
	switch backend.Kind(profile.Dialect) {
	case backend.KindSQLite:
		return backend.Options{Kind: backend.KindSQLite, SQLitePath: profile.DSN, BusyTimeout: 5 * time.Second}, nil
	case backend.KindDolt, backend.KindMySQL:
		host, port, user, password, database, err := splitDSN(profile.DSN)
		if err != nil {
			return backend.Options{}, fmt.Errorf("backend profile: %w", err)
		}
		return backend.Options{Kind: backend.Kind(profile.Dialect), Host: host, Port: port, User: user, Password: password, Database: database}, nil
	default:
		return backend.Options{}, fmt.Errorf("backend profile: unknown dialect %q", profile.Dialect)
	}
}

func loadConfig() (*bxconfig.Config, error) {
	cfg, err := bxconfig.Load(flagConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.MergeBackendProfiles(flagBackendProfiles); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openIndex loads config and opens the backend the flags select,
// returning a ready bxindex.Index. Callers must idx.Close() it.
func openIndex(ctx context.Context) (*bxindex.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("bxindexd: load config: %w", err)
	}
	opts, err := backendOptions()
	if err != nil {
		return nil, fmt.Errorf("bxindexd: resolve backend: %w", err)
	}
	return openIndexWithConfig(ctx, cfg, opts)
}

// openIndexWithConfig opens an index from an already-resolved config
// and backend selection, for subcommands (doctor) that need to tweak
// cfg before opening.
func openIndexWithConfig(ctx context.Context, cfg *bxconfig.Config, opts backend.Options) (*bxindex.Index, error) {
	return bxindex.Open(ctx, cfg, opts, newLogger())
}
