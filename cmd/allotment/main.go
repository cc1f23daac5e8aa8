package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"allotment/internal/clock"
	"allotment/internal/config"
	"allotment/internal/rowstore"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "allotment",
		Short:         "Clinic chair allotment dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config.yaml (default $ALLOTMENT_CONFIG or configs/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(backfillCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles what every command needs.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	loc    *time.Location
	store  rowstore.RowStore
	closer io.Closer
	table  *rowstore.Table
}

func (e *env) Close() {
	if err := e.closer.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close row store")
	}
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("ALLOTMENT_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)

	loc, err := clock.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.App.Timezone, err)
	}

	store, closer, err := rowstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		loc:    loc,
		store:  store,
		closer: closer,
		table:  rowstore.NewTable(store, logger),
	}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Logging.Pretty || os.Getenv("APP_ENV") == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("app", cfg.App.Name).Logger()
}
