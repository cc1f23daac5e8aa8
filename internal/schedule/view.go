// Package schedule derives the time-annotated view of the day's rows.
package schedule

import (
	"sort"
	"strings"
	"time"

	"allotment/internal/clock"
	"allotment/internal/models"
)

// Appointment is a row annotated for one evaluation instant.
type Appointment struct {
	Row    models.Row    `json:"row"`
	Status models.Status `json:"status"`

	In  *clock.TimeOfDay `json:"in,omitempty"`
	Out *clock.TimeOfDay `json:"out,omitempty"`

	// InMinutes and OutMinutes are minutes since local midnight. OutMinutes
	// is moved to the next day when the out time is earlier than the in time.
	InMinutes  *int `json:"in_minutes,omitempty"`
	OutMinutes *int `json:"out_minutes,omitempty"`

	Ongoing bool `json:"ongoing"`
}

// InDisplay returns the in time as "hh:mm AM", or the raw cell text.
func (a *Appointment) InDisplay() string {
	if a.In == nil {
		return strings.TrimSpace(a.Row.InTime)
	}
	return a.In.Format12h()
}

// OutDisplay returns the out time as "hh:mm AM", or the raw cell text.
func (a *Appointment) OutDisplay() string {
	if a.Out == nil {
		return strings.TrimSpace(a.Row.OutTime)
	}
	return a.Out.Format12h()
}

// MinutesUntil returns in - now, or false when the in time is unknown.
func (a *Appointment) MinutesUntil(nowMinutes int) (int, bool) {
	if a.InMinutes == nil {
		return 0, false
	}
	return *a.InMinutes - nowMinutes, true
}

// View is the schedule as seen at one instant. Now is fixed for the whole
// evaluation cycle.
type View struct {
	Now          time.Time      `json:"now"`
	NowMinutes   int            `json:"now_minutes"`
	Location     *time.Location `json:"-"`
	Appointments []Appointment  `json:"appointments"`
}

// Build annotates rows at now. Cleared rows are left out. Build has no side
// effects and never fails: a row with unparseable times simply has nil
// bounds and is never ongoing.
func Build(rows []models.Row, now time.Time, loc *time.Location) View {
	if loc == nil {
		loc = time.UTC
	}
	v := View{
		Now:          now.In(loc),
		NowMinutes:   clock.MinutesSinceMidnight(now, loc),
		Location:     loc,
		Appointments: make([]Appointment, 0, len(rows)),
	}

	for i := range rows {
		if rows[i].IsTombstone() {
			continue
		}
		v.Appointments = append(v.Appointments, annotate(rows[i], v.NowMinutes))
	}
	return v
}

func annotate(row models.Row, nowMinutes int) Appointment {
	a := Appointment{Row: row, Status: row.StatusValue()}

	if in, ok := row.In(); ok {
		m := in.Minutes()
		a.In = &in
		a.InMinutes = &m
	}
	if out, ok := row.Out(); ok {
		m := out.Minutes()
		if a.InMinutes != nil && m < *a.InMinutes {
			m += clock.MinutesPerDay
		}
		a.Out = &out
		a.OutMinutes = &m
	}

	if a.InMinutes != nil && a.OutMinutes != nil {
		a.Ongoing = *a.InMinutes <= nowMinutes && nowMinutes <= *a.OutMinutes
	}
	return a
}

// Find returns the appointment for a row id.
func (v *View) Find(id string) (*Appointment, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	for i := range v.Appointments {
		if strings.TrimSpace(v.Appointments[i].Row.ID) == id {
			return &v.Appointments[i], true
		}
	}
	return nil, false
}

// Ongoing returns appointments in progress, skipping cancelled, done and
// shifted ones.
func (v *View) Ongoing() []Appointment {
	var out []Appointment
	for _, a := range v.Appointments {
		if a.Ongoing && !a.Status.Closed() {
			out = append(out, a)
		}
	}
	return out
}

// Upcoming returns open appointments starting within window, soonest first.
func (v *View) Upcoming(window time.Duration) []Appointment {
	limit := int(window / time.Minute)
	var out []Appointment
	for _, a := range v.Appointments {
		if a.Status.Closed() {
			continue
		}
		left, ok := a.MinutesUntil(v.NowMinutes)
		if !ok || left <= 0 || left > limit {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].InMinutes < *out[j].InMinutes
	})
	return out
}

// Arrived returns appointments whose status is ARRIVED.
func (v *View) Arrived() []Appointment {
	var out []Appointment
	for _, a := range v.Appointments {
		if a.Status == models.StatusArrived {
			out = append(out, a)
		}
	}
	return out
}

// Counts tallies appointments per status.
func (v *View) Counts() map[models.Status]int {
	counts := make(map[models.Status]int, len(models.Statuses))
	for _, a := range v.Appointments {
		counts[a.Status]++
	}
	return counts
}
