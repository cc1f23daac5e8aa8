// Package changes detects edits made to the table between cycles and
// reports rows that newly became ongoing, upcoming or arrived.
//
// Tracking is keyed by patient name because older rows may have no id.
// Two rows with the same name collapse into one entry, which is accepted
// for a coarse "what changed" signal.
package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/models"
	"allotment/internal/schedule"
)

// Snapshot is what the notifier remembers between cycles.
type Snapshot struct {
	Hash     string    `json:"hash"`
	Ongoing  []string  `json:"ongoing"`
	Upcoming []string  `json:"upcoming"`
	Arrived  []string  `json:"arrived"`
	At       time.Time `json:"at"`
}

// Entry describes one row that changed state.
type Entry struct {
	Name        string `json:"name"`
	Procedure   string `json:"procedure,omitempty"`
	Doctor      string `json:"doctor,omitempty"`
	Chair       string `json:"chair,omitempty"`
	InDisplay   string `json:"in_display,omitempty"`
	MinutesLeft int    `json:"minutes_left,omitempty"`
}

// Changes is the outcome of one observation. The three lists are
// disjoint: an arrived patient is reported only as arrived.
type Changes struct {
	Edited        bool    `json:"edited"`
	Hash          string  `json:"hash"`
	NewlyOngoing  []Entry `json:"newly_ongoing,omitempty"`
	NewlyUpcoming []Entry `json:"newly_upcoming,omitempty"`
	NewlyArrived  []Entry `json:"newly_arrived,omitempty"`
}

// Empty reports whether nothing is worth announcing.
func (c Changes) Empty() bool {
	return len(c.NewlyOngoing) == 0 && len(c.NewlyUpcoming) == 0 && len(c.NewlyArrived) == 0
}

// Notifier compares each cycle with the snapshot kept in a TrackerStore.
type Notifier struct {
	mu     sync.Mutex
	store  TrackerStore
	window time.Duration
	logger zerolog.Logger
}

func NewNotifier(store TrackerStore, window time.Duration, logger zerolog.Logger) *Notifier {
	if store == nil {
		store = NewMemoryStore()
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Notifier{
		store:  store,
		window: window,
		logger: logger.With().Str("component", "changes").Logger(),
	}
}

// Observe compares rows with the previous snapshot. When the content hash
// is unchanged nothing is reported and the snapshot is kept. Otherwise the
// ongoing and upcoming tracking starts over, so every currently
// qualifying name is reported, and arrivals are diffed against the
// previous arrived set.
//
// Calls are serialized, and an observation older than the stored snapshot
// is ignored so overlapping cycles neither repeat nor roll back events.
func (n *Notifier) Observe(ctx context.Context, rows []models.Row, view schedule.View) (Changes, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hash := Hash(rows)

	prev, err := n.store.Get(ctx)
	switch {
	case errors.Is(err, ErrUnreadableSnapshot):
		n.logger.Warn().Err(err).Msg("Discarding unreadable change snapshot")
		prev = nil
	case err != nil:
		return Changes{Hash: hash}, fmt.Errorf("load change snapshot: %w", err)
	}
	if prev != nil && view.Now.Before(prev.At) {
		n.logger.Debug().Time("at", view.Now).Time("stored", prev.At).Msg("Stale observation ignored")
		return Changes{Hash: hash}, nil
	}
	if prev != nil && prev.Hash == hash {
		return Changes{Hash: hash}, nil
	}

	ongoing := entries(view.Ongoing(), view.NowMinutes)
	upcoming := entries(view.Upcoming(n.window), view.NowMinutes)
	arrived := entries(view.Arrived(), view.NowMinutes)

	var prevArrived []string
	if prev != nil {
		prevArrived = prev.Arrived
	}

	ch := Changes{
		Edited:       true,
		Hash:         hash,
		NewlyArrived: minus(arrived, prevArrived),
	}
	arrivedNames := names(arrived)
	ch.NewlyOngoing = minus(ongoing, arrivedNames)
	ch.NewlyUpcoming = minus(upcoming, arrivedNames)

	snap := Snapshot{
		Hash:     hash,
		Ongoing:  names(ongoing),
		Upcoming: names(upcoming),
		Arrived:  arrivedNames,
		At:       view.Now,
	}
	if err := n.store.Put(ctx, snap); err != nil {
		return ch, fmt.Errorf("store change snapshot: %w", err)
	}

	n.logger.Info().
		Str("hash", shortHash(hash)).
		Int("ongoing", len(ch.NewlyOngoing)).
		Int("upcoming", len(ch.NewlyUpcoming)).
		Int("arrived", len(ch.NewlyArrived)).
		Msg("Allotment updated")
	return ch, nil
}

// Hash digests the business fields of rows in order. Reminder columns are
// left out so the engine's own writes do not count as edits.
func Hash(rows []models.Row) string {
	h := sha256.New()
	for i := range rows {
		r := &rows[i]
		fields := []string{
			r.PatientID, r.PatientName, r.InTime, r.OutTime, r.Procedure,
			r.Doctor, r.AssistFirst, r.AssistSecond, r.AssistThird,
			r.CasePaper, r.Chair, strconv.FormatBool(r.Suction),
			strconv.FormatBool(r.Cleaning), r.Status,
		}
		if len(r.Extra) > 0 {
			keys := make([]string, 0, len(r.Extra))
			for k := range r.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fields = append(fields, k+"="+r.Extra[k])
			}
		}
		h.Write([]byte(strings.Join(fields, "\x1f")))
		h.Write([]byte{'\x1e'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func entries(list []schedule.Appointment, nowMinutes int) []Entry {
	seen := make(map[string]struct{}, len(list))
	out := make([]Entry, 0, len(list))
	for i := range list {
		a := &list[i]
		name := a.Row.BusinessKey()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		e := Entry{
			Name:      name,
			Procedure: a.Row.Procedure,
			Doctor:    a.Row.Doctor,
			Chair:     a.Row.Chair,
			InDisplay: a.InDisplay(),
		}
		if left, ok := a.MinutesUntil(nowMinutes); ok && left > 0 {
			e.MinutesLeft = left
		}
		out = append(out, e)
	}
	return out
}

func names(list []Entry) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func minus(list []Entry, exclude []string) []Entry {
	skip := make(map[string]struct{}, len(exclude))
	for _, n := range exclude {
		skip[n] = struct{}{}
	}
	var out []Entry
	for _, e := range list {
		if _, ok := skip[e.Name]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
