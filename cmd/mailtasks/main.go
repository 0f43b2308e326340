package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/mailtasks/internal/credential"
	"github.com/nhle/mailtasks/internal/ledger"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "mailtasks",
		Short:         "Extract actionable tasks from your email",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", model.DefaultConfigPath(), "config file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		accountsCmd(flags),
		loginCmd(flags),
		runCmd(flags),
		resetCmd(flags),
		tasksCmd(flags),
		messagesCmd(flags),
		serveCmd(flags),
	)
	return cmd
}

// env is everything a command needs, opened from config.
type env struct {
	cfg     *model.AppConfig
	logger  *slog.Logger
	store   *store.SQLiteStore
	vault   *credential.Vault
	creds   *credential.Store
	ledger  *ledger.Ledger
	logFile *os.File
}

// openEnv loads config and opens the database and keyring. When quiet is
// set, logs go to a file next to the database instead of stderr so they
// do not tear a full-screen view.
func openEnv(flags *globalFlags, quiet bool) (*env, error) {
	cfg, err := model.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}

	var out io.Writer = os.Stderr
	if quiet {
		logPath := filepath.Join(filepath.Dir(cfg.DatabasePath), "mailtasks.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		e.logFile = f
		out = f
	}
	e.logger = newLogger(out, cfg.LogLevel, flags.verbose)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		e.Close()
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	e.store, err = store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ring, err := credential.OpenKeyring(model.ConfigDir())
	if err != nil {
		e.Close()
		return nil, err
	}
	e.vault = credential.NewVault(ring)
	e.creds = credential.NewStore(e.store, e.vault)
	e.ledger = ledger.New(e.store)

	return e, nil
}

func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil && e.logger != nil {
			e.logger.Warn("closing database", "error", err)
		}
	}
	if e.logFile != nil {
		_ = e.logFile.Close()
	}
}

func newLogger(w io.Writer, level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
