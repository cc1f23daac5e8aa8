package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"allotment/internal/api"
	"allotment/internal/backup"
	"allotment/internal/changes"
	"allotment/internal/config"
	"allotment/internal/dashboard"
	"allotment/internal/events"
	"allotment/internal/metrics"
	"allotment/internal/notify"
	"allotment/internal/reminders"
	"allotment/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard: poll loop, reminders, notifications and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	cfg, logger := e.cfg, e.logger

	if n, err := e.table.BackfillIDs(ctx); err != nil {
		logger.Warn().Err(err).Msg("Id backfill failed, rows without ids are skipped until it succeeds")
	} else if n > 0 {
		logger.Info().Int("assigned", n).Msg("Backfilled row ids")
	}

	watcher := config.NewRosterWatcher(cfg.RosterPath, 30*time.Second, nil, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn().Err(err).Str("path", cfg.RosterPath).Msg("Roster unavailable, using defaults")
	}
	roster := watcher.Holder()

	metrics.Register()
	bus := events.NewEventBus(logger)
	feed := events.NewFeed(200)
	bus.Subscribe(events.AllTypes, feed.Handler())

	tracker, closeTracker, err := openTracker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTracker()

	rem := reminders.NewService(&reminders.Config{
		Window:     cfg.ReminderWindow(),
		AutoSnooze: cfg.AutoSnooze(),
		Location:   e.loc,
	}, e.table, nil, reminders.NewZerologLogger(logger), reminders.NewMetrics("allotment", prometheus.DefaultRegisterer))

	notifier := changes.NewNotifier(tracker, cfg.ReminderWindow(), logger)
	dash := dashboard.NewService(&dashboard.Config{
		PollInterval: cfg.PollInterval(),
		CycleTimeout: time.Minute,
		Location:     e.loc,
	}, e.table, rem, notifier, bus, nil, logger)

	sched := service.NewScheduleService(e.table, roster, bus, logger)

	if cfg.Telegram.Enabled {
		bot, err := notify.NewBotSender(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		tg := notify.NewTelegramNotifier(bot, notify.Config{
			ChatIDs:           cfg.Telegram.ChatIDs,
			MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
			QueueSize:         cfg.Telegram.QueueSize,
			Retry:             notify.DefaultRetryConfig(),
		}, logger)
		tg.Subscribe(bus)
		tg.Start(ctx)
		defer tg.Stop()
	}

	if cfg.Backup.Enabled {
		var uploader backup.Uploader
		if cfg.Backup.S3.Enabled {
			up, err := backup.NewS3Uploader(ctx, backup.S3Config{
				Bucket:   cfg.Backup.S3.Bucket,
				Prefix:   cfg.Backup.S3.Prefix,
				Region:   cfg.Backup.S3.Region,
				Endpoint: cfg.Backup.S3.Endpoint,
			})
			if err != nil {
				return err
			}
			uploader = up
		}
		bs := backup.NewService(backup.Config{
			Enabled:       true,
			Dir:           cfg.Backup.Path,
			Interval:      cfg.BackupInterval(),
			RetentionDays: cfg.Backup.RetentionDays,
		}, e.table, uploader, nil, &logger)
		go bs.Start(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewServer(api.Config{
		Address:         cfg.HTTP.Address,
		RateLimitPerSec: cfg.HTTP.RateLimitPerSec,
		SnoozeOptions:   cfg.Reminders.SnoozeOptionsMin,
		DefaultSnooze:   cfg.DefaultSnooze(),
	}, api.Dependencies{
		Dashboard: dash,
		Reminders: rem,
		Schedule:  sched,
		Feed:      feed,
		Store:     e.store,
	}, logger)

	dash.Start()
	defer dash.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openTracker picks where the change notifier keeps its last snapshot.
func openTracker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (changes.TrackerStore, func(), error) {
	if cfg.Tracker.Backend != "redis" {
		return changes.NewMemoryStore(), func() {}, nil
	}

	r := cfg.Tracker.Redis
	rdb := redis.NewClient(&redis.Options{Addr: r.Address, Password: r.Password, DB: r.DB})
	store := changes.NewRedisStore(rdb, r.Key, cfg.TrackerTTL())

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis tracker %s: %w", r.Address, err)
	}
	logger.Info().Str("address", r.Address).Str("key", r.Key).Msg("Change tracker uses Redis")

	return store, func() { _ = rdb.Close() }, nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
