package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
	"immichporter/pkg/store"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	dbPath     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "immichporter",
	Short: "Migrate photo metadata from Google Photos to Immich",
	Long: `Immichporter rebuilds your Google Photos album structure on an Immich server.

It works in two phases:
  1. Extract: a browser session walks your albums and photos and records
     their metadata (titles, filenames, capture times, sharing users, tags)
     in a local SQLite store.
  2. Reconcile: the recorded structure is compared against the Immich server
     and the missing users, albums, memberships and tags are created through
     the Immich API. Photo files themselves are expected to be imported into
     Immich separately (e.g. from a Takeout archive).

Both phases are resumable: interrupt them at any point and re-run.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute runs the root command and maps unrecoverable errors to exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes session problems (re-login fixes them) from fatal
// ones (operator intervention needed) so scripts can react accordingly.
func exitCode(err error) int {
	var typed *errs.Error
	if errors.As(err, &typed) {
		switch errs.CategoryOf(typed.Type) {
		case errs.CategorySession:
			return 2
		case errs.CategoryFatal:
			return 3
		}
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .immichporter.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the local store database")

	rootCmd.SetVersionTemplate(`immichporter {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig resolves configuration with flag > env > file precedence and
// initializes the global logger.
func loadConfig(extraFlags map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level": logLevel,
		"db-path":   dbPath,
	}
	for k, v := range extraFlags {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the local store at the configured path.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.Path, logger.GetLogger())
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a run can
// finish its in-flight unit before exiting.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
