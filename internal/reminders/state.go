package reminders

import (
	"strings"
	"time"

	"allotment/internal/clock"
	"allotment/internal/models"
)

// LegacySnoozeThreshold separates the two stored snooze formats: values
// below it are minute-of-day, values at or above it are epoch seconds.
// A minute-of-day never exceeds 1439, so the ranges cannot overlap.
const LegacySnoozeThreshold = 100000

// SessionState is the reminder bookkeeping of one running process.
type SessionState struct {
	// Sent holds ids alerted during their current entry into the window.
	Sent map[string]struct{}
	// Snoozed maps ids to the instant their snooze ends.
	Snoozed map[string]time.Time
	// Dismissed holds ids suppressed until explicitly cleared.
	Dismissed map[string]struct{}
}

func NewSessionState() *SessionState {
	return &SessionState{
		Sent:      make(map[string]struct{}),
		Snoozed:   make(map[string]time.Time),
		Dismissed: make(map[string]struct{}),
	}
}

// StateFromRows rebuilds the state from persisted row fields.
func StateFromRows(rows []models.Row, now time.Time, loc *time.Location) *SessionState {
	s := NewSessionState()
	s.Absorb(rows, now, loc, nil)
	return s
}

// Absorb takes the persisted suppression of every identified row as the
// truth, except for ids in skip whose own writes have not reached storage
// yet. Sent is never touched.
func (s *SessionState) Absorb(rows []models.Row, now time.Time, loc *time.Location, skip map[string]Write) {
	for i := range rows {
		id := strings.TrimSpace(rows[i].ID)
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}

		if rows[i].Dismissed {
			s.Dismissed[id] = struct{}{}
		} else {
			delete(s.Dismissed, id)
		}

		if rows[i].SnoozeUntil == nil {
			delete(s.Snoozed, id)
			continue
		}
		if until, ok := DecodeSnooze(*rows[i].SnoozeUntil, now, loc); ok {
			s.Snoozed[id] = until
		} else {
			delete(s.Snoozed, id)
		}
	}
}

// DecodeSnooze converts a stored snooze value into an instant. Values
// below LegacySnoozeThreshold are minutes after local midnight of now's
// day; a legacy value past the end of the day is invalid.
func DecodeSnooze(v int64, now time.Time, loc *time.Location) (time.Time, bool) {
	if v < 0 {
		return time.Time{}, false
	}
	if v >= LegacySnoozeThreshold {
		return time.Unix(v, 0), true
	}
	if v >= clock.MinutesPerDay {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	return clock.Midnight(now, loc).Add(time.Duration(v) * time.Minute), true
}

// EncodeSnooze returns the stored form of a snooze end: epoch seconds.
func EncodeSnooze(until time.Time) int64 {
	return until.Unix()
}

// IsSnoozed reports an active snooze at now.
func (s *SessionState) IsSnoozed(id string, now time.Time) (time.Time, bool) {
	until, ok := s.Snoozed[id]
	if !ok || !until.After(now) {
		return time.Time{}, false
	}
	return until, true
}

func (s *SessionState) IsDismissed(id string) bool {
	_, ok := s.Dismissed[id]
	return ok
}

// Clone returns an independent copy.
func (s *SessionState) Clone() *SessionState {
	c := NewSessionState()
	for id := range s.Sent {
		c.Sent[id] = struct{}{}
	}
	for id, until := range s.Snoozed {
		c.Snoozed[id] = until
	}
	for id := range s.Dismissed {
		c.Dismissed[id] = struct{}{}
	}
	return c
}

// writeFor captures the persisted form of id's current suppression.
func (s *SessionState) writeFor(id string) Write {
	w := Write{ID: id, Dismissed: s.IsDismissed(id)}
	if until, ok := s.Snoozed[id]; ok {
		u := until
		w.SnoozeUntil = &u
	}
	return w
}

// Write is the reminder state of one row as it must be stored.
type Write struct {
	ID          string     `json:"id"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	Dismissed   bool       `json:"dismissed"`
}

func (w Write) equal(o Write) bool {
	if w.ID != o.ID || w.Dismissed != o.Dismissed {
		return false
	}
	if (w.SnoozeUntil == nil) != (o.SnoozeUntil == nil) {
		return false
	}
	return w.SnoozeUntil == nil || w.SnoozeUntil.Equal(*o.SnoozeUntil)
}

// Apply stores w on row.
func (w Write) Apply(row *models.Row) {
	row.Dismissed = w.Dismissed
	if w.SnoozeUntil == nil {
		row.SnoozeUntil = nil
		return
	}
	v := EncodeSnooze(*w.SnoozeUntil)
	row.SnoozeUntil = &v
}

// ApplyWrites stores writes on the matching rows and reports whether any
// row changed. Writes for ids no longer present are ignored.
func ApplyWrites(rows []models.Row, writes []Write) bool {
	changed := false
	for _, w := range writes {
		idx := models.FindByID(rows, w.ID)
		if idx < 0 {
			continue
		}
		before := rows[idx].Clone()
		w.Apply(&rows[idx])
		if !sameReminderFields(before, rows[idx]) {
			changed = true
		}
	}
	return changed
}

func sameReminderFields(a, b models.Row) bool {
	if a.Dismissed != b.Dismissed {
		return false
	}
	if (a.SnoozeUntil == nil) != (b.SnoozeUntil == nil) {
		return false
	}
	return a.SnoozeUntil == nil || *a.SnoozeUntil == *b.SnoozeUntil
}
