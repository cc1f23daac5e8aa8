package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allotment/internal/changes"
	"allotment/internal/clock"
	"allotment/internal/config"
	"allotment/internal/dashboard"
	"allotment/internal/events"
	"allotment/internal/models"
	"allotment/internal/reminders"
	"allotment/internal/rowstore"
	"allotment/internal/service"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type memStore struct {
	mu      sync.Mutex
	rows    []models.Row
	loadErr error
	saveErr error
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
	m.rows = models.CloneRows(rows)
	return nil
}

func (m *memStore) set(loadErr, saveErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr, m.saveErr = loadErr, saveErr
}

func (m *memStore) row(id string) models.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := models.FindByID(m.rows, id); i >= 0 {
		return m.rows[i]
	}
	return models.Row{}
}

type testServer struct {
	store   *memStore
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := &memStore{rows: []models.Row{
		{ID: "a", PatientName: "Asha", InTime: "09:40", OutTime: "10:10", Doctor: "DR.HUSAIN", Chair: "OP 1", Status: "WAITING"},
		{ID: "b", PatientName: "Bala", InTime: "09:00", OutTime: "10:00", Doctor: "DR.NEHA", Chair: "OP 2", Status: "ARRIVED"},
	}}

	logger := zerolog.Nop()
	clk := clock.NewFakeClock(time.Date(2025, 3, 14, 9, 30, 0, 0, ist))
	table := rowstore.NewTable(store, logger)
	bus := events.NewEventBus(logger)
	feed := events.NewFeed(20)
	bus.Subscribe(events.AllTypes, feed.Handler())

	rem := reminders.NewService(&reminders.Config{AutoSnooze: reminders.DefaultAutoSnooze, Location: ist}, table, clk, nil, nil)
	dash := dashboard.NewService(&dashboard.Config{PollInterval: 30 * time.Second, Location: ist}, table, rem,
		changes.NewNotifier(nil, 15*time.Minute, logger), bus, clk, logger)
	sched := service.NewScheduleService(table, config.NewRosterHolder(config.DefaultRoster()), bus, logger)

	srv := NewServer(Config{SnoozeOptions: []int{5, 10}}, Dependencies{
		Dashboard: dash,
		Reminders: rem,
		Schedule:  sched,
		Feed:      feed,
		Store:     store,
		Gatherer:  prometheus.NewRegistry(),
	}, logger)

	return &testServer{store: store, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/readyz", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", nil).Code)

	ts.store.set(errors.New("disk gone"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestSchedule(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[scheduleResponse](t, rec)
	require.Len(t, resp.Appointments, 2)
	assert.Equal(t, "09:30 AM", resp.NowDisplay)
	assert.Equal(t, map[string]int{"WAITING": 1, "ARRIVED": 1}, resp.Counts)

	byID := map[string]appointment{}
	for _, a := range resp.Appointments {
		byID[a.ID] = a
	}
	assert.Equal(t, "09:40 AM", byID["a"].InDisplay)
	require.NotNil(t, byID["a"].MinutesUntil)
	assert.Equal(t, 10, *byID["a"].MinutesUntil)
	assert.True(t, byID["b"].Ongoing)
}

func TestSchedule_StorageUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.store.set(rowstore.ErrStorageUnavailable, nil)

	rec := ts.do(t, http.MethodGet, "/api/schedule", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage unavailable")
}

func TestChairs(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/schedule/chairs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]chairResponse](t, rec)
	require.GreaterOrEqual(t, len(groups), 2)
	assert.Equal(t, "OP 1", groups[0].Chair)
	require.Len(t, groups[0].Appointments, 1)
	assert.Equal(t, "Asha", groups[0].Appointments[0].PatientName)

	rec = ts.do(t, http.MethodGet, "/api/schedule/chairs/OP%202", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[chairResponse](t, rec).Appointments, 1)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/schedule/chairs/OP%209", nil).Code)
}

func TestDoctorsSummary(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/doctors/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "DR.HUSAIN")
	assert.Contains(t, rec.Body.String(), "DR.NEHA")
}

func TestReminders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/reminders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[remindersResponse](t, rec)
	assert.Equal(t, 15, resp.WindowMinutes)
	assert.Equal(t, []int{5, 10}, resp.SnoozeOptions)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "a", resp.Alerts[0].ID)
	require.Len(t, resp.Pending, 1)
	require.Len(t, resp.Snoozed, 1, "the heartbeat snooze is listed")
	assert.Equal(t, 30, resp.Snoozed[0].RemainingSeconds)
}

func TestReminderActions(t *testing.T) {
	t.Run("SnoozeMinutes", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/api/reminders/a/snooze", map[string]int{"minutes": 10})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[actionResponse](t, rec)
		assert.True(t, resp.Persisted)
		require.NotNil(t, resp.Write.SnoozeUntil)

		row := ts.store.row("a")
		require.NotNil(t, row.SnoozeUntil)
		assert.Equal(t, resp.Write.SnoozeUntil.Unix(), *row.SnoozeUntil)
	})

	t.Run("SnoozeDefault", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/api/reminders/a/snooze", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[actionResponse](t, rec)
		want := time.Date(2025, 3, 14, 9, 35, 0, 0, ist)
		assert.True(t, want.Equal(*resp.Write.SnoozeUntil))
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/api/reminders/a/snooze", map[string]int{"seconds": -5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, http.MethodPost, "/api/reminders/a/snooze", map[string]int{"seconds": 5, "minutes": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownRow", func(t *testing.T) {
		ts := newTestServer(t)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/reminders/zzz/dismiss", nil).Code)
	})

	t.Run("DismissAndClear", func(t *testing.T) {
		ts := newTestServer(t)
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/reminders/a/dismiss", nil).Code)
		assert.True(t, ts.store.row("a").Dismissed)

		require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/reminders/a/dismiss", nil).Code)
		assert.False(t, ts.store.row("a").Dismissed)
	})

	t.Run("CancelSnooze", func(t *testing.T) {
		ts := newTestServer(t)
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/reminders/a/snooze", map[string]int{"minutes": 5}).Code)
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/reminders/a/snooze", nil).Code)
		assert.Nil(t, ts.store.row("a").SnoozeUntil)
	})

	t.Run("PersistenceFailure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.set(nil, errors.New("file locked"))

		rec := ts.do(t, http.MethodPost, "/api/reminders/a/dismiss", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		resp := decode[errorResponse](t, rec)
		require.NotNil(t, resp.Persisted)
		assert.False(t, *resp.Persisted)
		assert.Contains(t, resp.Error, "persistence failure")
	})
}

func TestRows(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/rows", map[string]string{"patient_name": "Chitra", "in_time": "11.30", "chair": "OP 3"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Row](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "11:30", created.InTime)
	assert.Equal(t, "WAITING", created.Status)

	rec = ts.do(t, http.MethodPost, "/api/rows", map[string]string{"in_time": "11:30"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/rows/"+created.ID, map[string]string{"procedure": "Scaling"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Scaling", decode[models.Row](t, rec).Procedure)

	rec = ts.do(t, http.MethodPost, "/api/rows/"+created.ID+"/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := ts.store.row(created.ID)
	assert.True(t, cleared.IsTombstone())

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/rows/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/rows/"+created.ID, nil).Code)
}

func TestEventsAndRefresh(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/refresh", nil).Code)

	rec := ts.do(t, http.MethodGet, "/api/events?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]events.Event](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), events.TypeReminder))

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/events?limit=abc", nil).Code)
}

func TestRoster(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/roster", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chairs        []string `json:"chairs"`
		SnoozeOptions []int    `json:"snooze_options_minutes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"OP 1", "OP 2", "OP 3", "OP 4"}, resp.Chairs)
	assert.Equal(t, []int{5, 10}, resp.SnoozeOptions)
}
