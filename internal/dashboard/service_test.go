package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allotment/internal/changes"
	"allotment/internal/clock"
	"allotment/internal/events"
	"allotment/internal/models"
	"allotment/internal/reminders"
	"allotment/internal/rowstore"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type memStore struct {
	mu      sync.Mutex
	rows    []models.Row
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(ctx context.Context) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return models.CloneRows(m.rows), nil
}

func (m *memStore) Save(ctx context.Context, rows []models.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.rows = models.CloneRows(rows)
	return nil
}

type harness struct {
	store *memStore
	clock *clock.FakeClock
	feed  *events.Feed
	svc   *Service
}

func newHarness(rows ...models.Row) *harness {
	h := &harness{
		store: &memStore{rows: rows},
		clock: clock.NewFakeClock(time.Date(2025, 3, 14, 9, 30, 0, 0, ist)),
		feed:  events.NewFeed(50),
	}
	table := rowstore.NewTable(h.store, zerolog.Nop())
	rem := reminders.NewService(&reminders.Config{AutoSnooze: reminders.DefaultAutoSnooze, Location: ist}, table, h.clock, nil, nil)
	bus := events.NewEventBus(zerolog.Nop())
	bus.Subscribe(events.AllTypes, h.feed.Handler())
	notifier := changes.NewNotifier(changes.NewMemoryStore(), 15*time.Minute, zerolog.Nop())
	h.svc = NewService(&Config{PollInterval: 30 * time.Second, Location: ist}, table, rem, notifier, bus, h.clock, zerolog.Nop())
	return h
}

func (h *harness) eventTypes() []string {
	var out []string
	recent := h.feed.Recent(0)
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i].Type)
	}
	return out
}

func clinicRows() []models.Row {
	return []models.Row{
		{ID: "a", PatientName: "Asha", InTime: "09:00", OutTime: "09:45", Status: "WAITING", Chair: "OP 1"},
		{ID: "b", PatientName: "Bala", InTime: "09:40", Status: "WAITING", Doctor: "DR.KALPANA", Chair: "OP 2"},
	}
}

func TestRefresh_PublishesAndPersists(t *testing.T) {
	h := newHarness(clinicRows()...)

	snap, err := h.svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "b", snap.Alerts[0].ID)
	assert.True(t, snap.Changes.Edited)
	assert.Len(t, snap.View.Appointments, 2)
	assert.Zero(t, snap.Unsaved)

	assert.Equal(t, []string{
		events.TypeReminder,
		events.TypeScheduleEdited,
		events.TypeOngoing,
		events.TypeUpcoming,
	}, h.eventTypes())
	assert.Equal(t, "Reminder: Bala in ~10 min at 09:40 AM with DR.KALPANA (OP 2)", h.feed.Recent(0)[3].Message)

	require.NotNil(t, h.store.rows[1].SnoozeUntil, "heartbeat snooze is saved")
	assert.Equal(t, 1, h.store.saves)

	h.clock.Advance(10 * time.Second)
	snap, err = h.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Alerts)
	assert.False(t, snap.Changes.Edited, "the heartbeat write is not an edit")
	assert.Equal(t, 4, h.feed.Len())
	assert.Equal(t, 1, h.store.saves, "nothing to save")
}

func TestRefresh_StorageUnavailable(t *testing.T) {
	h := newHarness(clinicRows()...)
	_, err := h.svc.Refresh(context.Background())
	require.NoError(t, err)

	h.store.loadErr = rowstore.ErrStorageUnavailable
	_, err = h.svc.Refresh(context.Background())
	assert.ErrorIs(t, err, rowstore.ErrStorageUnavailable)

	snap := h.svc.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.View.Appointments, 2, "last good snapshot is kept")
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, events.TypeStorageUnavailable, h.feed.Recent(1)[0].Type)
}

func TestRefresh_PersistenceFailure(t *testing.T) {
	h := newHarness(clinicRows()...)
	h.store.saveErr = errors.New("sharing violation")

	snap, err := h.svc.Refresh(context.Background())
	require.NoError(t, err, "a failed reminder save does not fail the cycle")
	assert.Len(t, snap.Alerts, 1)
	assert.Equal(t, 1, snap.Unsaved)
	assert.Contains(t, snap.LastError, "sharing violation")
	assert.Contains(t, h.eventTypes(), events.TypePersistenceFailure)

	h.store.saveErr = nil
	h.clock.Advance(5 * time.Second)
	snap, err = h.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Alerts)
	assert.Zero(t, snap.Unsaved)
	assert.NotNil(t, h.store.rows[1].SnoozeUntil)
}

func TestCurrent_ReusesFreshSnapshot(t *testing.T) {
	h := newHarness(clinicRows()...)
	ctx := context.Background()

	first, err := h.svc.Current(ctx)
	require.NoError(t, err)
	again, err := h.svc.Current(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)

	h.clock.Advance(31 * time.Second)
	later, err := h.svc.Current(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, later)
}

func TestStartStop(t *testing.T) {
	h := newHarness(clinicRows()...)
	h.svc.Start()
	h.svc.Start()

	assert.Eventually(t, func() bool { return h.svc.Snapshot() != nil }, time.Second, 10*time.Millisecond)

	h.svc.Stop()
	h.svc.Stop()
}
