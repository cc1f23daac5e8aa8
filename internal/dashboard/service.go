// Package dashboard runs the refresh cycle: load the table, annotate it,
// evaluate reminders and changes, persist reminder writes and publish
// events.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/changes"
	"allotment/internal/clock"
	"allotment/internal/events"
	"allotment/internal/metrics"
	"allotment/internal/models"
	"allotment/internal/reminders"
	"allotment/internal/rowstore"
	"allotment/internal/schedule"
)

// Config holds configuration for the refresh loop.
type Config struct {
	// PollInterval is how often the table is reloaded.
	// Default: 30 seconds.
	PollInterval time.Duration

	// CycleTimeout bounds one refresh.
	// Default: 1 minute.
	CycleTimeout time.Duration

	// Location is the clinic timezone.
	Location *time.Location
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 30 * time.Second,
		CycleTimeout: time.Minute,
		Location:     time.UTC,
	}
}

// Snapshot is the result of the latest refresh.
type Snapshot struct {
	At        time.Time         `json:"at"`
	Rows      []models.Row      `json:"-"`
	View      schedule.View     `json:"view"`
	Alerts    []reminders.Alert `json:"alerts"`
	Changes   changes.Changes   `json:"changes"`
	Unsaved   int               `json:"unsaved_writes"`
	LastError string            `json:"last_error,omitempty"`
}

// Service owns the refresh loop and the latest snapshot.
type Service struct {
	config    *Config
	table     *rowstore.Table
	reminders *reminders.Service
	notifier  *changes.Notifier
	bus       *events.EventBus
	clock     clock.Clock
	logger    zerolog.Logger

	snapMu   sync.RWMutex
	snapshot *Snapshot

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates a new dashboard service.
func NewService(
	config *Config,
	table *rowstore.Table,
	rem *reminders.Service,
	notifier *changes.Notifier,
	bus *events.EventBus,
	clk clock.Clock,
	logger zerolog.Logger,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = time.Minute
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}

	return &Service{
		config:    config,
		table:     table,
		reminders: rem,
		notifier:  notifier,
		bus:       bus,
		clock:     clk,
		logger:    logger.With().Str("component", "dashboard").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Refresh runs one cycle. It fails only when the table cannot be loaded;
// a failed save of reminder state is published and retried next cycle.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	now := s.clock.Now()

	var (
		view schedule.View
		res  reminders.Result
	)
	rows, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		view = schedule.Build(rows, now, s.config.Location)
		res = s.reminders.Evaluate(rows, view)
		return rows, reminders.ApplyWrites(rows, res.Writes), nil
	})

	result := "ok"
	snap := &Snapshot{At: now}
	switch {
	case err == nil:
		s.reminders.Confirm(res.Writes)
	case errors.Is(err, rowstore.ErrPersistenceFailure):
		result = "unsaved"
		s.reminders.Fail(res.Writes, err)
		snap.LastError = err.Error()
		s.publish(events.TypePersistenceFailure,
			fmt.Sprintf("Reminder changes not saved, retrying next cycle: %v", err),
			map[string]any{"writes": res.Writes})
	default:
		metrics.ObserveCycle("unavailable", time.Since(start))
		s.logger.Error().Err(err).Msg("Refresh failed")
		s.publish(events.TypeStorageUnavailable, fmt.Sprintf("Schedule could not be loaded: %v", err), nil)
		s.markFailed(err)
		return nil, err
	}

	if len(res.Skipped) > 0 {
		s.logger.Debug().Int("rows", len(res.Skipped)).Msg("Rows without a usable id skipped by reminders")
	}

	ch, err := s.notifier.Observe(ctx, rows, view)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Change tracking unavailable")
	}

	for _, a := range res.Alerts {
		s.publish(events.TypeReminder, reminderMessage(a), a)
	}
	if ch.Edited {
		s.publish(events.TypeScheduleEdited, "Allotment updated", map[string]string{"hash": ch.Hash})
	}
	for _, e := range ch.NewlyOngoing {
		s.publish(events.TypeOngoing, ongoingMessage(e), e)
	}
	for _, e := range ch.NewlyUpcoming {
		s.publish(events.TypeUpcoming, upcomingMessage(e), e)
	}
	for _, e := range ch.NewlyArrived {
		s.publish(events.TypeArrived, arrivedMessage(e), e)
	}

	snap.Rows = rows
	snap.View = view
	snap.Alerts = res.Alerts
	snap.Changes = ch
	snap.Unsaved = len(s.reminders.Unsaved())

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()

	d := time.Since(start)
	metrics.ObserveCycle(result, d)
	s.logger.Debug().
		Int("rows", len(rows)).
		Int("alerts", len(res.Alerts)).
		Bool("edited", ch.Edited).
		Dur("took", d).
		Msg("Refresh complete")
	return snap, nil
}

// markFailed keeps the last good snapshot but records the error.
func (s *Service) markFailed(err error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snapshot == nil {
		s.snapshot = &Snapshot{At: s.clock.Now()}
	}
	cp := *s.snapshot
	cp.LastError = err.Error()
	s.snapshot = &cp
}

func (s *Service) publish(eventType, message string, payload any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.PublishJSON(eventType, message, payload); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("Failed to publish event")
	}
}

// Snapshot returns the latest snapshot, or nil before the first refresh.
func (s *Service) Snapshot() *Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// Current returns the latest snapshot, refreshing first when there is
// none or when it is older than one poll interval.
func (s *Service) Current(ctx context.Context) (*Snapshot, error) {
	snap := s.Snapshot()
	if snap != nil && snap.View.Location != nil && s.clock.Now().Sub(snap.At) < s.config.PollInterval {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Location returns the clinic timezone.
func (s *Service) Location() *time.Location {
	return s.config.Location
}

// Start begins the refresh loop.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Dur("poll_interval", s.config.PollInterval).Msg("Dashboard refresh started")
}

// Stop gracefully stops the refresh loop.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("Dashboard refresh stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	// Run immediately on start
	s.tick()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
	defer cancel()
	_, _ = s.Refresh(ctx)
}
