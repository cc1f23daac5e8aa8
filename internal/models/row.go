package models

import (
	"errors"
	"fmt"
	"strings"

	"allotment/internal/clock"
)

var (
	ErrMalformedRow = errors.New("malformed row")
	ErrRowNotFound  = errors.New("row not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Column names as they appear in every backend.
const (
	ColPatientID   = "Patient ID"
	ColPatientName = "Patient Name"
	ColInTime      = "In Time"
	ColOutTime     = "Out Time"
	ColProcedure   = "Procedure"
	ColDoctor      = "DR."
	ColFirst       = "FIRST"
	ColSecond      = "SECOND"
	ColThird       = "Third"
	ColCasePaper   = "CASE PAPER"
	ColChair       = "OP"
	ColSuction     = "SUCTION"
	ColCleaning    = "CLEANING"
	ColStatus      = "STATUS"
	ColRowID       = "REMINDER_ROW_ID"
	ColSnoozeUntil = "REMINDER_SNOOZE_UNTIL"
	ColDismissed   = "REMINDER_DISMISSED"
)

// Columns is the canonical column order.
var Columns = []string{
	ColPatientID, ColPatientName, ColInTime, ColOutTime, ColProcedure,
	ColDoctor, ColFirst, ColSecond, ColThird, ColCasePaper, ColChair,
	ColSuction, ColCleaning, ColStatus, ColRowID, ColSnoozeUntil, ColDismissed,
}

// Row is one appointment slot.
type Row struct {
	ID           string `json:"id"`
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name"`
	InTime       string `json:"in_time"`
	OutTime      string `json:"out_time"`
	Procedure    string `json:"procedure"`
	Doctor       string `json:"doctor"`
	AssistFirst  string `json:"assist_first"`
	AssistSecond string `json:"assist_second"`
	AssistThird  string `json:"assist_third"`
	CasePaper    string `json:"case_paper"`
	Chair        string `json:"chair"`
	Suction      bool   `json:"suction"`
	Cleaning     bool   `json:"cleaning"`
	Status       string `json:"status"`

	// SnoozeUntil holds epoch seconds, or minute-of-day in rows written
	// by older versions.
	SnoozeUntil *int64 `json:"snooze_until,omitempty"`
	Dismissed   bool   `json:"dismissed"`

	// Extra keeps columns this version does not know about.
	Extra map[string]string `json:"extra,omitempty"`
}

// IsTombstone reports whether the row was cleared but kept for its identity.
func (r *Row) IsTombstone() bool {
	return strings.TrimSpace(r.PatientName) == ""
}

// IsBlank reports whether the row carries no text at all. Flags and snooze
// values alone do not count as content.
func (r *Row) IsBlank() bool {
	for _, v := range []string{
		r.ID, r.PatientID, r.PatientName, r.InTime, r.OutTime, r.Procedure,
		r.Doctor, r.AssistFirst, r.AssistSecond, r.AssistThird, r.CasePaper,
		r.Chair, r.Status,
	} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	for _, v := range r.Extra {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// In returns the normalized in-time.
func (r *Row) In() (clock.TimeOfDay, bool) {
	return clock.Normalize(r.InTime)
}

// Out returns the normalized out-time.
func (r *Row) Out() (clock.TimeOfDay, bool) {
	return clock.Normalize(r.OutTime)
}

// StatusValue parses the free-text status.
func (r *Row) StatusValue() Status {
	return ParseStatus(r.Status)
}

// Validate reports why a row cannot take part in reminders.
func (r *Row) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing %s", ErrMalformedRow, ColRowID)
	}
	if _, ok := r.In(); !ok {
		return fmt.Errorf("%w: row %s: unparseable in time %q", ErrMalformedRow, r.ID, r.InTime)
	}
	return nil
}

// Clone returns a deep copy.
func (r Row) Clone() Row {
	if r.SnoozeUntil != nil {
		v := *r.SnoozeUntil
		r.SnoozeUntil = &v
	}
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// Clear turns the row into a tombstone: business fields are blanked,
// identity and reminder fields stay.
func (r *Row) Clear() {
	*r = Row{
		ID:          r.ID,
		SnoozeUntil: r.SnoozeUntil,
		Dismissed:   r.Dismissed,
		Extra:       r.Extra,
	}
}

// BusinessKey is the patient name used by name-keyed change tracking.
func (r *Row) BusinessKey() string {
	return strings.TrimSpace(r.PatientName)
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i := range rows {
		out[i] = rows[i].Clone()
	}
	return out
}

// FindByID returns the index of the first row with id, or -1.
func FindByID(rows []Row, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i := range rows {
		if strings.TrimSpace(rows[i].ID) == id {
			return i
		}
	}
	return -1
}
