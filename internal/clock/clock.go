package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "Asia/Kolkata"

// Clock abstracts the wall clock so cycles can be driven from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a settable clock for tests and dry runs.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// LoadLocation resolves an IANA zone name or a fixed offset such as
// "+05:30" or "UTC+5:30".
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}

	offset := strings.TrimPrefix(strings.TrimPrefix(name, "UTC"), "GMT")
	if offset != "" && (offset[0] == '+' || offset[0] == '-') {
		secs, err := parseOffset(offset)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", name, err)
		}
		return time.FixedZone(name, secs), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseOffset(s string) (int, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = s[1:]

	hs, ms, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(hs)
	if err != nil || h > 14 {
		return 0, fmt.Errorf("invalid offset hours %q", hs)
	}
	m := 0
	if ms != "" {
		m, err = strconv.Atoi(ms)
		if err != nil || m > 59 {
			return 0, fmt.Errorf("invalid offset minutes %q", ms)
		}
	}
	return sign * (h*3600 + m*60), nil
}

// MinutesSinceMidnight returns the minutes elapsed since local midnight of t in loc.
func MinutesSinceMidnight(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Hour()*60 + t.Minute()
}

// Midnight returns local midnight of the day containing t.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
