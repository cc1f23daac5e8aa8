package clock

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  TimeOfDay
	}{
		{"dotted string", "9.30", TimeOfDay{9, 30}},
		{"dotted single decimal", "9.3", TimeOfDay{9, 30}},
		{"dotted leading zero minutes", "14.05", TimeOfDay{14, 5}},
		{"dotted minutes overflow", "9.75", TimeOfDay{9, 45}},
		{"colon string", "09:30", TimeOfDay{9, 30}},
		{"colon short hour", "9:30", TimeOfDay{9, 30}},
		{"colon with seconds", "09:30:00", TimeOfDay{9, 30}},
		{"padded", "  16:45 ", TimeOfDay{16, 45}},
		{"am suffix", "09:30 AM", TimeOfDay{9, 30}},
		{"pm suffix", "02:15PM", TimeOfDay{14, 15}},
		{"midnight am", "12:00 AM", TimeOfDay{0, 0}},
		{"noon pm", "12:10 pm", TimeOfDay{12, 10}},
		{"bare hour pm", "3 PM", TimeOfDay{15, 0}},
		{"bare hour", "9", TimeOfDay{9, 0}},
		{"datetime", "2025-01-10 09:30:00", TimeOfDay{9, 30}},
		{"rfc3339", "2025-01-10T18:05:00+05:30", TimeOfDay{18, 5}},
		{"excel serial", 0.3958333333, TimeOfDay{9, 30}},
		{"excel serial string", "0.395833333333333", TimeOfDay{9, 30}},
		{"excel zero", 0.0, TimeOfDay{0, 0}},
		{"excel half", 0.5, TimeOfDay{12, 0}},
		{"float dotted", 9.30, TimeOfDay{9, 30}},
		{"float overflow minutes", 10.75, TimeOfDay{10, 45}},
		{"float32", float32(14.5), TimeOfDay{14, 50}},
		{"json number", json.Number("9.3"), TimeOfDay{9, 30}},
		{"integer hours", 17, TimeOfDay{17, 0}},
		{"time value", time.Date(2025, 1, 1, 7, 5, 59, 0, time.UTC), TimeOfDay{7, 5}},
		{"time of day", TimeOfDay{23, 59}, TimeOfDay{23, 59}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.input)
			require.True(t, ok, "expected %v to normalize", tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Unparseable(t *testing.T) {
	inputs := []any{
		nil,
		"",
		"   ",
		"abc",
		"nan",
		"25:00",
		"24",
		"9:60",
		"9:5",
		"1:2:3:4",
		"13:00 PM",
		"0:30 AM",
		"-3",
		"9.3x",
		1.0,
		-0.2,
		24.0,
		30.5,
		math.NaN(),
		math.Inf(1),
		-1,
		24,
		TimeOfDay{Hour: 24},
		(*TimeOfDay)(nil),
		time.Time{},
		[]string{"09:30"},
		struct{}{},
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, ok := Normalize(in)
			assert.False(t, ok, "expected %#v to be rejected", in)
		})
	}
}

func TestNormalize_RoundTrip(t *testing.T) {
	for m := 0; m < MinutesPerDay; m++ {
		want := FromMinutes(m)

		got, ok := Normalize(want.String())
		require.True(t, ok, want.String())
		require.Equal(t, want, got)

		again, ok := Normalize(got.String())
		require.True(t, ok)
		require.Equal(t, got, again)

		twelve, ok := Normalize(want.Format12h())
		require.True(t, ok, want.Format12h())
		require.Equal(t, want, twelve)
	}
}

func TestTimeOfDay_Format(t *testing.T) {
	assert.Equal(t, "09:05", TimeOfDay{9, 5}.String())
	assert.Equal(t, "12:00 AM", TimeOfDay{0, 0}.Format12h())
	assert.Equal(t, "12:30 PM", TimeOfDay{12, 30}.Format12h())
	assert.Equal(t, "11:59 PM", TimeOfDay{23, 59}.Format12h())
	assert.Equal(t, 570, TimeOfDay{9, 30}.Minutes())
}

func TestFromMinutes_Wraps(t *testing.T) {
	assert.Equal(t, TimeOfDay{0, 30}, FromMinutes(MinutesPerDay+30))
	assert.Equal(t, TimeOfDay{23, 0}, FromMinutes(-60))
}

func TestLoadLocation(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantOffset int
	}{
		{"default", "", 5*3600 + 30*60},
		{"iana", "Asia/Kolkata", 5*3600 + 30*60},
		{"fixed offset", "+05:30", 5*3600 + 30*60},
		{"utc prefixed", "UTC+5:30", 5*3600 + 30*60},
		{"negative", "-03:00", -3 * 3600},
		{"utc", "UTC", 0},
	}

	ref := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LoadLocation(tt.input)
			require.NoError(t, err)
			_, offset := ref.In(loc).Zone()
			assert.Equal(t, tt.wantOffset, offset)
		})
	}

	_, err := LoadLocation("Mars/Olympus")
	assert.Error(t, err)
	_, err = LoadLocation("+99:00")
	assert.Error(t, err)
}

func TestMinutesSinceMidnight(t *testing.T) {
	loc, err := LoadLocation("+05:30")
	require.NoError(t, err)

	// 04:00 UTC is 09:30 at +05:30.
	now := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, 570, MinutesSinceMidnight(now, loc))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, loc).Unix(), Midnight(now, loc).Unix())
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}
