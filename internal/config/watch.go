package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RosterWatcher keeps a RosterHolder in sync with roster.yaml. A file that
// fails to parse or validate is reported once and the last good roster
// stays in effect; a missing file leaves the defaults until it appears.
type RosterWatcher struct {
	path     string
	interval time.Duration
	holder   *RosterHolder
	logger   zerolog.Logger

	modTime time.Time
	size    int64
}

func NewRosterWatcher(path string, interval time.Duration, holder *RosterHolder, logger zerolog.Logger) *RosterWatcher {
	if path == "" {
		path = "configs/roster.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if holder == nil {
		holder = NewRosterHolder(DefaultRoster())
	}
	return &RosterWatcher{
		path:     path,
		interval: interval,
		holder:   holder,
		logger:   logger.With().Str("component", "roster").Str("path", path).Logger(),
	}
}

// Holder returns the holder the watcher updates.
func (w *RosterWatcher) Holder() *RosterHolder {
	return w.holder
}

// Start loads the roster once and then polls the file until ctx is done.
// The error of the first load is returned, but polling starts either way.
func (w *RosterWatcher) Start(ctx context.Context) error {
	err := w.reload()
	go w.loop(ctx)
	return err
}

func (w *RosterWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.reload()
		}
	}
}

// reload reads the file when its modification time or size moved since
// the last attempt.
func (w *RosterWatcher) reload() error {
	info, err := os.Stat(w.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug().Err(err).Msg("Roster stat failed")
		}
		return err
	}
	if info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return nil
	}
	w.modTime, w.size = info.ModTime(), info.Size()

	next, err := LoadRoster(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Roster rejected, keeping the previous one")
		return err
	}

	prev := w.holder.Get()
	w.holder.Set(next)
	w.logger.Info().
		Int("chairs", len(next.Chairs)).
		Int("doctors", len(next.Doctors)).
		Int("assistants", len(next.Assistants)).
		Strs("chairs_added", added(prev.Chairs, next.Chairs)).
		Strs("chairs_removed", added(next.Chairs, prev.Chairs)).
		Strs("doctors_added", added(prev.Doctors, next.Doctors)).
		Strs("doctors_removed", added(next.Doctors, prev.Doctors)).
		Msg("Roster loaded")
	return nil
}

// added lists the values of next that are not in prev, compared the way
// roster lookups compare.
func added(prev, next []string) []string {
	var out []string
	for _, v := range next {
		if !contains(prev, v) {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
