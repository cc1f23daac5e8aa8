package changes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allotment/internal/models"
	"allotment/internal/schedule"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func clinicTime(hour, minute int) time.Time {
	return time.Date(2025, 3, 14, hour, minute, 0, 0, ist)
}

func observe(t *testing.T, n *Notifier, rows []models.Row, now time.Time) Changes {
	t.Helper()
	ch, err := n.Observe(context.Background(), rows, schedule.Build(rows, now, ist))
	require.NoError(t, err)
	return ch
}

func entryNames(list []Entry) []string {
	var out []string
	for _, e := range list {
		out = append(out, e.Name)
	}
	return out
}

func dayRows() []models.Row {
	return []models.Row{
		{ID: "1", PatientName: "Asha", InTime: "09:00", OutTime: "09:45", Status: "WAITING", Procedure: "RCT", Doctor: "DR.NEHA", Chair: "OP 1"},
		{ID: "2", PatientName: "Bala", InTime: "09:40", OutTime: "10:00", Status: "WAITING"},
		{ID: "3", PatientName: "Chitra", InTime: "11:00", Status: "ARRIVED"},
		{ID: "4", PatientName: "Dev", InTime: "09:00", OutTime: "10:00", Status: "DONE"},
	}
}

func TestNotifier_FirstObservation(t *testing.T) {
	n := NewNotifier(NewMemoryStore(), 15*time.Minute, zerolog.Nop())

	ch := observe(t, n, dayRows(), clinicTime(9, 30))
	assert.True(t, ch.Edited)
	assert.Equal(t, []string{"Asha"}, entryNames(ch.NewlyOngoing))
	assert.Equal(t, []string{"Bala"}, entryNames(ch.NewlyUpcoming))
	assert.Equal(t, 10, ch.NewlyUpcoming[0].MinutesLeft)
	assert.Equal(t, []string{"Chitra"}, entryNames(ch.NewlyArrived))
	assert.Equal(t, "DR.NEHA", ch.NewlyOngoing[0].Doctor)
}

func TestNotifier_UnchangedHashShortCircuits(t *testing.T) {
	n := NewNotifier(NewMemoryStore(), 15*time.Minute, zerolog.Nop())
	rows := dayRows()
	first := observe(t, n, rows, clinicTime(9, 30))

	ch := observe(t, n, rows, clinicTime(9, 50))
	assert.False(t, ch.Edited)
	assert.True(t, ch.Empty(), "time passing alone reports nothing")
	assert.Equal(t, first.Hash, ch.Hash)

	// Reminder writes are not edits.
	until := int64(1735712345)
	rows[1].SnoozeUntil = &until
	rows[1].Dismissed = true
	rows[1].ID = "changed"
	assert.False(t, observe(t, n, rows, clinicTime(9, 50)).Edited)
}

func TestNotifier_EditResetsTracking(t *testing.T) {
	n := NewNotifier(NewMemoryStore(), 15*time.Minute, zerolog.Nop())
	rows := dayRows()
	observe(t, n, rows, clinicTime(9, 30))

	rows[1].Procedure = "Scaling"
	ch := observe(t, n, rows, clinicTime(9, 30))
	assert.True(t, ch.Edited)
	assert.Equal(t, []string{"Asha"}, entryNames(ch.NewlyOngoing), "tracking sets reset on edit")
	assert.Equal(t, []string{"Bala"}, entryNames(ch.NewlyUpcoming))
	assert.Empty(t, ch.NewlyArrived, "arrivals are diffed against the previous snapshot")
}

func TestNotifier_ArrivedTakesPrecedence(t *testing.T) {
	n := NewNotifier(NewMemoryStore(), 15*time.Minute, zerolog.Nop())
	rows := dayRows()
	observe(t, n, rows, clinicTime(9, 30))

	rows[1].Status = "arrived"
	ch := observe(t, n, rows, clinicTime(9, 30))
	assert.Equal(t, []string{"Bala"}, entryNames(ch.NewlyArrived))
	assert.NotContains(t, entryNames(ch.NewlyUpcoming), "Bala")
	assert.Equal(t, []string{"Asha"}, entryNames(ch.NewlyOngoing))
}

func TestNotifier_CollapsesDuplicateNames(t *testing.T) {
	n := NewNotifier(nil, 0, zerolog.Nop())
	rows := []models.Row{
		{PatientName: "Esha", InTime: "09:35"},
		{PatientName: " Esha ", InTime: "09:40"},
		{PatientName: "", InTime: "09:40"},
	}
	ch := observe(t, n, rows, clinicTime(9, 30))
	assert.Equal(t, []string{"Esha"}, entryNames(ch.NewlyUpcoming))
}

func TestHash(t *testing.T) {
	rows := dayRows()
	h := Hash(rows)
	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash(dayRows()))

	rows[0].Extra = map[string]string{"Notes": "x"}
	assert.NotEqual(t, h, Hash(rows))

	swapped := dayRows()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	assert.NotEqual(t, h, Hash(swapped), "row order is part of the content")
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, "", time.Hour)
	require.NoError(t, store.Ping(ctx))

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	want := Snapshot{Hash: "abc", Ongoing: []string{"Asha"}, Arrived: []string{"Chitra"}, At: clinicTime(9, 30).UTC()}
	require.NoError(t, store.Put(ctx, want))
	assert.Equal(t, time.Hour, mr.TTL("allotment:changes"))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Hash, got.Hash)
	assert.Equal(t, want.Ongoing, got.Ongoing)
	assert.True(t, want.At.Equal(got.At))

	require.NoError(t, mr.Set("allotment:changes", "{not json"))
	got, err = store.Get(ctx)
	assert.ErrorIs(t, err, ErrUnreadableSnapshot)
	assert.Nil(t, got)

	mr.Close()
	_, err = store.Get(ctx)
	assert.Error(t, err)
}

func TestNotifier_RedisSurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rows := dayRows()
	first := NewNotifier(NewRedisStore(client, "clinic", 0), 15*time.Minute, zerolog.Nop())
	assert.True(t, observe(t, first, rows, clinicTime(9, 30)).Edited)

	restarted := NewNotifier(NewRedisStore(client, "clinic", 0), 15*time.Minute, zerolog.Nop())
	assert.False(t, observe(t, restarted, rows, clinicTime(9, 31)).Edited)
}

func TestNotifier_UnreadableSnapshotIsReplaced(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("clinic", "{not json"))
	n := NewNotifier(NewRedisStore(client, "clinic", 0), 15*time.Minute, zerolog.Nop())

	rows := dayRows()
	ch := observe(t, n, rows, clinicTime(9, 30))
	assert.True(t, ch.Edited)
	assert.Equal(t, []string{"Chitra"}, entryNames(ch.NewlyArrived))

	got, err := NewRedisStore(client, "clinic", 0).Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ch.Hash, got.Hash)
}

func TestNotifier_StaleObservationIgnored(t *testing.T) {
	store := NewMemoryStore()
	n := NewNotifier(store, 15*time.Minute, zerolog.Nop())

	observe(t, n, dayRows(), clinicTime(9, 30))

	edited := dayRows()
	edited[2].Status = "WAITING"
	newer := observe(t, n, edited, clinicTime(9, 35))
	require.True(t, newer.Edited)

	older := observe(t, n, dayRows(), clinicTime(9, 34))
	assert.False(t, older.Edited)
	assert.True(t, older.Empty())

	snap, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newer.Hash, snap.Hash, "an older cycle does not overwrite a newer snapshot")
}

func TestNotifier_ConcurrentObserversAnnounceOnce(t *testing.T) {
	n := NewNotifier(NewMemoryStore(), 15*time.Minute, zerolog.Nop())
	rows := dayRows()
	view := schedule.Build(rows, clinicTime(9, 30), ist)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		edited  int
		arrived []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := n.Observe(context.Background(), rows, view)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ch.Edited {
				edited++
			}
			arrived = append(arrived, entryNames(ch.NewlyArrived)...)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, edited)
	assert.Equal(t, []string{"Chitra"}, arrived)
}
