package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Roster lists the option values offered when editing rows: chairs,
// doctors, assistants and statuses.
type Roster struct {
	Chairs     []string `yaml:"chairs" json:"chairs"`
	Doctors    []string `yaml:"doctors" json:"doctors"`
	Assistants []string `yaml:"assistants" json:"assistants"`
	Statuses   []string `yaml:"statuses" json:"statuses"`
}

// DefaultRoster is used when no roster file exists.
func DefaultRoster() *Roster {
	r := &Roster{}
	r.applyDefaults()
	return r
}

// LoadRoster loads and validates the roster from a YAML file.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		path = "configs/roster.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validate roster: %w", err)
	}

	r.applyDefaults()

	return &r, nil
}

// Validate checks the roster for blank and duplicate entries.
func (r *Roster) Validate() error {
	lists := []struct {
		name   string
		values []string
	}{
		{"chairs", r.Chairs},
		{"doctors", r.Doctors},
		{"assistants", r.Assistants},
		{"statuses", r.Statuses},
	}

	for _, l := range lists {
		seen := make(map[string]bool, len(l.values))
		for i, v := range l.values {
			key := strings.ToUpper(strings.TrimSpace(v))
			if key == "" {
				return fmt.Errorf("%s[%d]: value is required", l.name, i)
			}
			if seen[key] {
				return fmt.Errorf("%s[%d]: duplicate value '%s'", l.name, i, v)
			}
			seen[key] = true
		}
	}
	return nil
}

func (r *Roster) applyDefaults() {
	if len(r.Chairs) == 0 {
		r.Chairs = []string{"OP 1", "OP 2", "OP 3", "OP 4"}
	}
	if len(r.Statuses) == 0 {
		r.Statuses = []string{"WAITING", "ARRIVED", "ON GOING", "CANCELLED", "SHIFTED", "DONE"}
	}
}

// HasChair reports whether chair is listed (case-insensitive).
func (r *Roster) HasChair(chair string) bool {
	return contains(r.Chairs, chair)
}

// HasDoctor reports whether doctor is listed. An empty doctor list allows any value.
func (r *Roster) HasDoctor(doctor string) bool {
	return len(r.Doctors) == 0 || contains(r.Doctors, doctor)
}

// HasAssistant reports whether name is listed. An empty list allows any value.
func (r *Roster) HasAssistant(name string) bool {
	return len(r.Assistants) == 0 || contains(r.Assistants, name)
}

// ChairOrder returns the position of chair in the roster, or -1.
func (r *Roster) ChairOrder(chair string) int {
	for i, c := range r.Chairs {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(chair)) {
			return i
		}
	}
	return -1
}

func contains(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// RosterHolder shares the current roster between the watcher and readers.
type RosterHolder struct {
	v atomic.Pointer[Roster]
}

func NewRosterHolder(r *Roster) *RosterHolder {
	h := &RosterHolder{}
	h.Set(r)
	return h
}

// Get returns the current roster, never nil.
func (h *RosterHolder) Get() *Roster {
	if r := h.v.Load(); r != nil {
		return r
	}
	return DefaultRoster()
}

// Set replaces the roster; nil is ignored.
func (h *RosterHolder) Set(r *Roster) {
	if r != nil {
		h.v.Store(r)
	}
}
