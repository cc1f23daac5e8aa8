package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"allotment/internal/clock"
	"allotment/internal/models"
	"allotment/internal/rowstore"
	"allotment/internal/schedule"
)

// Config holds configuration for the reminder service.
type Config struct {
	// Window is how long before the in time a row becomes pending.
	// Default: 15 minutes.
	Window time.Duration

	// AutoSnooze is the heartbeat snooze after each alert.
	// Zero disables it.
	AutoSnooze time.Duration

	// Location is the clinic timezone used for legacy snooze values.
	Location *time.Location
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Window:     DefaultWindow,
		AutoSnooze: DefaultAutoSnooze,
		Location:   time.UTC,
	}
}

// Service owns the session state of the running process and persists
// every change through the row table.
type Service struct {
	config  *Config
	engine  Engine
	table   *rowstore.Table
	clock   clock.Clock
	logger  Logger
	metrics *Metrics

	mu         sync.Mutex
	state      *SessionState
	unsaved    map[string]Write
	lastAlerts []Alert
	lastStates map[string]RowState
}

// NewService creates a new reminder service.
func NewService(
	config *Config,
	table *rowstore.Table,
	clk clock.Clock,
	logger Logger,
	metrics *Metrics,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Window == 0 {
		config.Window = DefaultWindow
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		logger = nopLogger{}
	}

	return &Service{
		config:     config,
		engine:     NewEngine(config.Window, config.AutoSnooze),
		table:      table,
		clock:      clk,
		logger:     logger,
		metrics:    metrics,
		state:      NewSessionState(),
		unsaved:    make(map[string]Write),
		lastStates: make(map[string]RowState),
	}
}

// Window returns the configured alert window.
func (s *Service) Window() time.Duration {
	return s.engine.Window
}

// Evaluate runs one cycle over rows freshly loaded from the table and the
// view built from them. Persisted suppression is taken from the rows
// first. The returned writes include earlier ones that never reached
// storage; the caller applies them, saves and reports back with Confirm
// or Fail.
func (s *Service) Evaluate(rows []models.Row, view schedule.View) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := view.Location
	if loc == nil {
		loc = s.config.Location
	}
	s.state.Absorb(rows, view.Now, loc, s.unsaved)

	res := s.engine.Evaluate(s.state, view)
	for _, w := range res.Writes {
		s.unsaved[w.ID] = w
	}
	res.Writes = s.unsavedLocked()

	for _, sk := range res.Skipped {
		s.logger.Debug("Row excluded from reminders",
			"index", sk.Index,
			"id", sk.ID,
			"reason", sk.Reason,
			"error", models.ErrMalformedRow.Error(),
		)
	}

	pending := 0
	for _, st := range res.States {
		if st.InWindow() {
			pending++
		}
	}
	s.metrics.SetPending(pending)
	s.metrics.IncAlerts(len(res.Alerts))
	if s.engine.AutoSnooze > 0 {
		s.metrics.IncAutoSnoozes(len(res.Alerts))
	}
	s.metrics.SetUnsaved(len(s.unsaved))

	s.lastAlerts = append([]Alert(nil), res.Alerts...)
	s.lastStates = make(map[string]RowState, len(res.States))
	for id, st := range res.States {
		s.lastStates[id] = st
	}

	for _, a := range res.Alerts {
		s.logger.Info("Reminder alert",
			"id", a.ID,
			"patient", a.PatientName,
			"minutes_left", a.MinutesLeft,
		)
	}
	return res
}

// Confirm marks writes as stored.
func (s *Service) Confirm(writes []Write) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		if cur, ok := s.unsaved[w.ID]; ok && cur.equal(w) {
			delete(s.unsaved, w.ID)
		}
	}
	s.metrics.SetUnsaved(len(s.unsaved))
}

// Fail records that writes did not reach storage. They stay queued and
// are returned again by the next Evaluate.
func (s *Service) Fail(writes []Write, err error) {
	if len(writes) == 0 {
		return
	}
	s.metrics.IncPersistenceFailures()
	s.logger.Warn("Reminder state not persisted, will retry next cycle",
		"writes", len(writes),
		"error", err,
	)
}

// Unsaved returns writes waiting for a successful save.
func (s *Service) Unsaved() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsavedLocked()
}

func (s *Service) unsavedLocked() []Write {
	if len(s.unsaved) == 0 {
		return nil
	}
	out := make([]Write, 0, len(s.unsaved))
	for _, w := range s.unsaved {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snooze suppresses id for d. Any earlier alert for the row is forgotten
// so it alerts again once the snooze ends.
func (s *Service) Snooze(ctx context.Context, id string, d time.Duration) (Write, error) {
	if d <= 0 {
		return Write{}, fmt.Errorf("%w: snooze duration must be positive", models.ErrInvalidInput)
	}
	return s.act(ctx, "snooze", id, func(st *SessionState, key string, now time.Time) {
		st.Snoozed[key] = time.Unix(now.Add(d).Unix(), 0)
		delete(st.Sent, key)
	})
}

// Dismiss suppresses id until ClearDismiss. A running snooze is dropped.
func (s *Service) Dismiss(ctx context.Context, id string) (Write, error) {
	return s.act(ctx, "dismiss", id, func(st *SessionState, key string, _ time.Time) {
		st.Dismissed[key] = struct{}{}
		delete(st.Snoozed, key)
	})
}

// CancelSnooze ends a snooze early.
func (s *Service) CancelSnooze(ctx context.Context, id string) (Write, error) {
	return s.act(ctx, "cancel_snooze", id, func(st *SessionState, key string, _ time.Time) {
		delete(st.Snoozed, key)
		delete(st.Sent, key)
	})
}

// ClearDismiss lets a dismissed row alert again.
func (s *Service) ClearDismiss(ctx context.Context, id string) (Write, error) {
	return s.act(ctx, "clear_dismiss", id, func(st *SessionState, key string, _ time.Time) {
		delete(st.Dismissed, key)
		delete(st.Sent, key)
	})
}

// act applies mutate to id's state and stores the result in the same
// locked update. When the save fails the state change is kept in memory,
// the write is queued for the next cycle and the error wraps
// rowstore.ErrPersistenceFailure. Other errors leave the state untouched.
func (s *Service) act(
	ctx context.Context,
	action, id string,
	mutate func(st *SessionState, key string, now time.Time),
) (Write, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.metrics.IncAction(action, "invalid")
		return Write{}, fmt.Errorf("%w: row id is required", models.ErrInvalidInput)
	}

	now := s.clock.Now()
	var w Write
	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		idx := models.FindByID(rows, id)
		if idx < 0 {
			return rows, false, fmt.Errorf("%w: %s", models.ErrRowNotFound, id)
		}

		s.mu.Lock()
		if _, queued := s.unsaved[id]; !queued {
			s.state.Absorb(rows[idx:idx+1], now, s.config.Location, nil)
		}
		mutate(s.state, id, now)
		w = s.state.writeFor(id)
		s.unsaved[id] = w
		s.mu.Unlock()

		w.Apply(&rows[idx])
		return rows, true, nil
	})

	switch {
	case err == nil:
		s.Confirm([]Write{w})
		s.metrics.IncAction(action, "ok")
		s.logger.Info("Reminder updated", "action", action, "id", id)
		return w, nil
	case errors.Is(err, rowstore.ErrPersistenceFailure):
		s.metrics.IncAction(action, "unsaved")
		s.Fail([]Write{w}, err)
		return w, err
	case errors.Is(err, models.ErrRowNotFound):
		s.metrics.IncAction(action, "not_found")
		return Write{}, err
	default:
		s.metrics.IncAction(action, "error")
		s.logger.Error("Reminder action failed", "action", action, "id", id, "error", err)
		return Write{}, err
	}
}

// LastAlerts returns the alerts of the latest cycle.
func (s *Service) LastAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.lastAlerts...)
}

// State returns a copy of the session state.
func (s *Service) State() *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// PendingReminder is one row of the reminder management list.
type PendingReminder struct {
	Alert
	State           RowState   `json:"state"`
	Dismissed       bool       `json:"dismissed"`
	SnoozedUntil    *time.Time `json:"snoozed_until,omitempty"`
	SnoozeRemaining int        `json:"snooze_remaining_seconds,omitempty"`
}

// Pending lists rows inside the alert window at the view's instant,
// soonest first.
func (s *Service) Pending(view schedule.View) []PendingReminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingReminder
	seen := make(map[string]struct{})
	for i := range view.Appointments {
		a := &view.Appointments[i]
		id := strings.TrimSpace(a.Row.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		st := s.engine.Classify(s.state, a, view.NowMinutes, view.Now)
		if !st.InWindow() {
			continue
		}
		p := PendingReminder{
			Alert:     newAlert(a, view.NowMinutes, view.Now),
			State:     st,
			Dismissed: s.state.IsDismissed(id),
		}
		if until, ok := s.state.IsSnoozed(id, view.Now); ok {
			u := until
			p.SnoozedUntil = &u
			p.SnoozeRemaining = remainingSeconds(until, view.Now)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinutesLeft < out[j].MinutesLeft
	})
	return out
}

// SnoozedReminder is an active snooze.
type SnoozedReminder struct {
	ID               string    `json:"id"`
	PatientName      string    `json:"patient_name"`
	Until            time.Time `json:"until"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// Snoozed lists active snoozes of rows present in the view, ending
// soonest first.
func (s *Service) Snoozed(view schedule.View) []SnoozedReminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SnoozedReminder
	for id, until := range s.state.Snoozed {
		if !until.After(view.Now) {
			continue
		}
		a, ok := view.Find(id)
		if !ok {
			continue
		}
		out = append(out, SnoozedReminder{
			ID:               id,
			PatientName:      a.Row.PatientName,
			Until:            until,
			RemainingSeconds: remainingSeconds(until, view.Now),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Until.Equal(out[j].Until) {
			return out[i].Until.Before(out[j].Until)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func remainingSeconds(until, now time.Time) int {
	d := until.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}
