// Package reminders decides which appointments need an alert and keeps
// the snooze and dismiss state that suppresses them.
package reminders

import (
	"strings"
	"time"

	"allotment/internal/clock"
	"allotment/internal/schedule"
)

// Defaults for the alert window and the heartbeat snooze.
const (
	DefaultWindow     = 15 * time.Minute
	DefaultAutoSnooze = 30 * time.Second
)

// RowState is the derived reminder state of one row.
type RowState int

const (
	StateDormant RowState = iota
	StatePending
	StateSuppressed
	StateAlerting
)

func (s RowState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSuppressed:
		return "suppressed"
	case StateAlerting:
		return "alerting"
	default:
		return "dormant"
	}
}

func (s RowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// InWindow reports Pending, Suppressed and Alerting rows.
func (s RowState) InWindow() bool {
	return s != StateDormant
}

// Alert is one user-visible reminder.
type Alert struct {
	ID          string          `json:"id"`
	PatientID   string          `json:"patient_id,omitempty"`
	PatientName string          `json:"patient_name"`
	Procedure   string          `json:"procedure,omitempty"`
	Doctor      string          `json:"doctor,omitempty"`
	Chair       string          `json:"chair,omitempty"`
	InTime      clock.TimeOfDay `json:"in_time"`
	InDisplay   string          `json:"in_display"`
	MinutesLeft int             `json:"minutes_left"`
	At          time.Time       `json:"at"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Alerts []Alert
	// States holds the state of each identified row as evaluated, before
	// this cycle's heartbeat snoozes.
	States map[string]RowState
	// Writes lists rows whose persisted reminder fields changed.
	Writes []Write
	// Skipped lists rows excluded from reminders: missing or duplicate id.
	Skipped []Skipped
}

// Skipped names a row left out of reminder evaluation.
type Skipped struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Engine holds the reminder timing rules.
type Engine struct {
	Window time.Duration
	// AutoSnooze is the heartbeat snooze applied after each alert.
	// Zero disables it and each entry into the window alerts once.
	AutoSnooze time.Duration
}

func NewEngine(window, autoSnooze time.Duration) Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if autoSnooze < 0 {
		autoSnooze = 0
	}
	return Engine{Window: window, AutoSnooze: autoSnooze}
}

// Classify returns the state of a at the view's instant.
func (e Engine) Classify(state *SessionState, a *schedule.Appointment, nowMinutes int, now time.Time) RowState {
	left, ok := a.MinutesUntil(nowMinutes)
	if !ok || a.Status.SuppressesReminder() {
		return StateDormant
	}
	if left <= 0 || left > int(e.Window/time.Minute) {
		return StateDormant
	}
	id := strings.TrimSpace(a.Row.ID)
	if state.IsDismissed(id) {
		return StateSuppressed
	}
	if _, ok := state.IsSnoozed(id, now); ok {
		return StateSuppressed
	}
	return StateAlerting
}

// Evaluate runs one cycle against state, mutating it, and reports alerts
// and the writes needed to persist the new state. It never fails; rows
// that cannot be targeted are listed in Result.Skipped.
func (e Engine) Evaluate(state *SessionState, view schedule.View) Result {
	now := view.Now
	res := Result{States: make(map[string]RowState)}
	touched := make(map[string]struct{})
	var order []string
	touch := func(id string) {
		if _, ok := touched[id]; !ok {
			touched[id] = struct{}{}
			order = append(order, id)
		}
	}

	// Expired snoozes end the current alert entry.
	for id, until := range state.Snoozed {
		if until.After(now) {
			continue
		}
		delete(state.Snoozed, id)
		delete(state.Sent, id)
		touch(id)
	}

	seen := make(map[string]struct{}, len(view.Appointments))
	var alerting []*schedule.Appointment
	for i := range view.Appointments {
		a := &view.Appointments[i]
		id := strings.TrimSpace(a.Row.ID)
		if id == "" {
			res.Skipped = append(res.Skipped, Skipped{Index: i, Reason: "missing id"})
			continue
		}
		if _, dup := seen[id]; dup {
			res.Skipped = append(res.Skipped, Skipped{Index: i, ID: id, Reason: "duplicate id"})
			continue
		}
		seen[id] = struct{}{}

		st := e.Classify(state, a, view.NowMinutes, now)
		res.States[id] = st
		if st == StateAlerting {
			alerting = append(alerting, a)
		}
	}

	// Leaving the window ends the alert entry too.
	for id := range state.Sent {
		if !res.States[id].InWindow() {
			delete(state.Sent, id)
		}
	}

	for _, a := range alerting {
		id := strings.TrimSpace(a.Row.ID)
		if _, sent := state.Sent[id]; sent {
			continue
		}
		res.Alerts = append(res.Alerts, newAlert(a, view.NowMinutes, now))
		state.Sent[id] = struct{}{}

		if e.AutoSnooze > 0 {
			state.Snoozed[id] = time.Unix(now.Add(e.AutoSnooze).Unix(), 0)
			touch(id)
		}
	}

	for _, id := range order {
		res.Writes = append(res.Writes, state.writeFor(id))
	}
	return res
}

func newAlert(a *schedule.Appointment, nowMinutes int, now time.Time) Alert {
	alert := Alert{
		ID:          strings.TrimSpace(a.Row.ID),
		PatientID:   a.Row.PatientID,
		PatientName: a.Row.PatientName,
		Procedure:   a.Row.Procedure,
		Doctor:      a.Row.Doctor,
		Chair:       a.Row.Chair,
		InDisplay:   a.InDisplay(),
		At:          now,
	}
	if a.In != nil {
		alert.InTime = *a.In
	}
	alert.MinutesLeft, _ = a.MinutesUntil(nowMinutes)
	return alert
}
