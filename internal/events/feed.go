package events

import "sync"

// DefaultFeedSize is how many events a Feed keeps when no size is given.
const DefaultFeedSize = 200

// Feed keeps the most recent events in a ring buffer.
type Feed struct {
	mu    sync.RWMutex
	buf   []Event
	next  int
	count int
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{buf: make([]Event, size)}
}

// Handler returns an EventHandler that records every event it receives.
func (f *Feed) Handler() EventHandler {
	return func(event Event) error {
		f.Add(event)
		return nil
	}
}

// Add records event, dropping the oldest one when full.
func (f *Feed) Add(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = event
	f.next = (f.next + 1) % len(f.buf)
	if f.count < len(f.buf) {
		f.count++
	}
}

// Recent returns up to limit events, newest first. A limit of zero or
// less returns everything kept.
func (f *Feed) Recent(limit int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if limit <= 0 || limit > f.count {
		limit = f.count
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + len(f.buf)) % len(f.buf)
		out = append(out, f.buf[idx])
	}
	return out
}

// Len returns the number of events kept.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}
