package clock

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the length of a day in minutes.
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// NewTimeOfDay returns the time of day and whether hour and minute are in range.
func NewTimeOfDay(hour, minute int) (TimeOfDay, bool) {
	t := TimeOfDay{Hour: hour, Minute: minute}
	return t, t.Valid()
}

// FromMinutes converts minutes since midnight into a time of day, wrapping
// values outside a single day.
func FromMinutes(m int) TimeOfDay {
	m %= MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return TimeOfDay{Hour: m / 60, Minute: m % 60}
}

// Valid reports whether the hour is 0-23 and the minute is 0-59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String returns the canonical "HH:MM" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Format12h returns "hh:mm AM" / "hh:mm PM".
func (t TimeOfDay) Format12h() string {
	suffix := "AM"
	h := t.Hour
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, t.Minute, suffix)
}

// On returns the instant at this time of day on the date of day in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = day.Location()
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

// Normalize converts a heterogeneous cell value into a time of day.
// It never panics; anything it cannot interpret yields false.
func Normalize(v any) (TimeOfDay, bool) {
	switch val := v.(type) {
	case nil:
		return TimeOfDay{}, false
	case TimeOfDay:
		return val, val.Valid()
	case *TimeOfDay:
		if val == nil {
			return TimeOfDay{}, false
		}
		return *val, val.Valid()
	case time.Time:
		if val.IsZero() {
			return TimeOfDay{}, false
		}
		return TimeOfDay{Hour: val.Hour(), Minute: val.Minute()}, true
	case *time.Time:
		if val == nil {
			return TimeOfDay{}, false
		}
		return Normalize(*val)
	case string:
		return parseString(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return TimeOfDay{}, false
		}
		return fromNumber(f)
	case float64:
		return fromNumber(val)
	case float32:
		return fromNumber(float64(val))
	case int:
		return fromHours(int64(val))
	case int32:
		return fromHours(int64(val))
	case int64:
		return fromHours(val)
	case uint:
		return fromHours(int64(val))
	case fmt.Stringer:
		return parseString(val.String())
	default:
		return TimeOfDay{}, false
	}
}

// MustNormalize is Normalize for tests and static tables.
func MustNormalize(v any) TimeOfDay {
	t, ok := Normalize(v)
	if !ok {
		panic(fmt.Sprintf("clock: cannot normalize %v", v))
	}
	return t
}

func fromHours(h int64) (TimeOfDay, bool) {
	if h < 0 || h >= 24 {
		return TimeOfDay{}, false
	}
	return TimeOfDay{Hour: int(h)}, true
}

// fromNumber handles spreadsheet numbers: [0,1] is an Excel fraction of a
// day, (1,24) is hours with the decimals read as minutes.
func fromNumber(f float64) (TimeOfDay, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= 24 {
		return TimeOfDay{}, false
	}
	if f <= 1 {
		total := int(math.Round(f * MinutesPerDay))
		return NewTimeOfDay(total/60, total%60)
	}

	whole := math.Floor(f)
	frac := f - whole
	minute := int(math.Round(frac * 100))
	if minute >= 60 {
		minute = int(math.Round(frac * 60))
	}
	return NewTimeOfDay(int(whole), minute)
}

func parseString(raw string) (TimeOfDay, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "NAN" || s == "NONE" || s == "NAT" {
		return TimeOfDay{}, false
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, true
		}
	}

	meridiem := ""
	for _, suffix := range []string{"AM", "PM", "A.M.", "P.M."} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix[:1]
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	t, ok := parseClock(s, meridiem == "")
	if !ok {
		return TimeOfDay{}, false
	}
	if meridiem == "" {
		return t, true
	}

	if t.Hour < 1 || t.Hour > 12 {
		return TimeOfDay{}, false
	}
	if meridiem == "A" && t.Hour == 12 {
		t.Hour = 0
	} else if meridiem == "P" && t.Hour != 12 {
		t.Hour += 12
	}
	return t, true
}

// parseClock reads "H:MM[:SS]", "H.MM", "H" and numeric spreadsheet text.
func parseClock(s string, allowNumeric bool) (TimeOfDay, bool) {
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return TimeOfDay{}, false
		}
		h, ok := atoi(parts[0])
		if !ok {
			return TimeOfDay{}, false
		}
		m, ok := atoi(parts[1])
		if !ok || len(parts[1]) != 2 {
			return TimeOfDay{}, false
		}
		if len(parts) == 3 {
			sec, ok := atoi(strings.SplitN(parts[2], ".", 2)[0])
			if !ok || sec > 59 {
				return TimeOfDay{}, false
			}
		}
		return NewTimeOfDay(h, m)
	}

	if whole, frac, found := strings.Cut(s, "."); found {
		h, okH := atoi(whole)
		_, okF := atoi(frac)
		if !okH || !okF {
			return TimeOfDay{}, false
		}
		// Two or fewer decimals on a non-zero hour is hand-typed "H.MM".
		// Longer fractions and "0.x" are spreadsheet numbers.
		if h > 0 && len(frac) <= 2 {
			if len(frac) == 1 {
				frac += "0"
			}
			m, _ := atoi(frac)
			if m >= 60 {
				m = int(math.Round(float64(m) / 100 * 60))
			}
			return NewTimeOfDay(h, m)
		}
		if !allowNumeric {
			return TimeOfDay{}, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return TimeOfDay{}, false
		}
		return fromNumber(f)
	}

	h, ok := atoi(s)
	if !ok {
		return TimeOfDay{}, false
	}
	return NewTimeOfDay(h, 0)
}

// atoi accepts only plain ASCII digits.
func atoi(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
