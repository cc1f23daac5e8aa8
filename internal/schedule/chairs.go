package schedule

import (
	"sort"
	"strings"

	"allotment/internal/models"
)

// ChairGroup holds the appointments booked on one chair (OP).
type ChairGroup struct {
	Chair        string        `json:"chair"`
	Appointments []Appointment `json:"appointments"`
}

// ByChair partitions the view per chair. Chairs listed in order come first
// in that order, the rest follow alphabetically. Rows without a chair are
// grouped under an empty name at the end. Chairs from order with no
// appointments are still returned so every OP gets a tab.
func (v *View) ByChair(order []string) []ChairGroup {
	groups := make(map[string]*ChairGroup)
	var names []string

	add := func(name string) *ChairGroup {
		key := strings.ToUpper(strings.TrimSpace(name))
		if g, ok := groups[key]; ok {
			return g
		}
		g := &ChairGroup{Chair: strings.TrimSpace(name)}
		groups[key] = g
		names = append(names, key)
		return g
	}

	for _, c := range order {
		add(c)
	}
	for _, a := range v.Appointments {
		g := add(a.Row.Chair)
		g.Appointments = append(g.Appointments, a)
	}

	rank := make(map[string]int, len(order))
	for i, c := range order {
		key := strings.ToUpper(strings.TrimSpace(c))
		if _, ok := rank[key]; !ok {
			rank[key] = i
		}
	}

	sort.SliceStable(names, func(i, j int) bool {
		a, b := names[i], names[j]
		ra, okA := rank[a]
		rb, okB := rank[b]
		switch {
		case okA && okB:
			return ra < rb
		case okA != okB:
			return okA
		case (a == "") != (b == ""):
			return b == ""
		default:
			return a < b
		}
	})

	out := make([]ChairGroup, 0, len(names))
	for _, n := range names {
		g := groups[n]
		sortByIn(g.Appointments)
		out = append(out, *g)
	}
	return out
}

// Chair returns the appointments of one chair, matched case-insensitively.
func (v *View) Chair(chair string) []Appointment {
	chair = strings.TrimSpace(chair)
	var out []Appointment
	for _, a := range v.Appointments {
		if strings.EqualFold(strings.TrimSpace(a.Row.Chair), chair) {
			out = append(out, a)
		}
	}
	sortByIn(out)
	return out
}

// sortByIn orders by in time; unknown times sink to the end.
func sortByIn(list []Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].InMinutes, list[j].InMinutes
		if a == nil || b == nil {
			return a != nil
		}
		return *a < *b
	})
}

// DoctorCount is one line of the doctor summary.
type DoctorCount struct {
	Doctor       string         `json:"doctor"`
	Appointments int            `json:"appointments"`
	ByStatus     map[string]int `json:"by_status"`
}

// DoctorSummary counts non-cleared rows per doctor, busiest first.
// Rows without a doctor are not counted.
func DoctorSummary(rows []models.Row) []DoctorCount {
	index := make(map[string]*DoctorCount)
	var keys []string

	for i := range rows {
		r := &rows[i]
		if r.IsTombstone() {
			continue
		}
		doctor := strings.TrimSpace(r.Doctor)
		if doctor == "" {
			continue
		}
		key := strings.ToUpper(doctor)
		dc, ok := index[key]
		if !ok {
			dc = &DoctorCount{Doctor: doctor, ByStatus: make(map[string]int)}
			index[key] = dc
			keys = append(keys, key)
		}
		dc.Appointments++

		status := r.StatusValue().String()
		if status == "" {
			status = "UNKNOWN"
		}
		dc.ByStatus[status]++
	}

	out := make([]DoctorCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, *index[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Appointments != out[j].Appointments {
			return out[i].Appointments > out[j].Appointments
		}
		return out[i].Doctor < out[j].Doctor
	})
	return out
}
