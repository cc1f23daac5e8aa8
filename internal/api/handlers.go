package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"allotment/internal/config"
	"allotment/internal/events"
	"allotment/internal/models"
	"allotment/internal/reminders"
	"allotment/internal/schedule"
	"allotment/internal/service"
)

// appointment is a row with its display annotations.
type appointment struct {
	models.Row
	Normalized   string `json:"status_value"`
	InDisplay    string `json:"in_display"`
	OutDisplay   string `json:"out_display"`
	InMinutes    *int   `json:"in_minutes,omitempty"`
	OutMinutes   *int   `json:"out_minutes,omitempty"`
	MinutesUntil *int   `json:"minutes_until,omitempty"`
	Ongoing      bool   `json:"ongoing"`
}

func toAppointments(list []schedule.Appointment, nowMinutes int) []appointment {
	out := make([]appointment, 0, len(list))
	for i := range list {
		a := &list[i]
		item := appointment{
			Row:        a.Row,
			Normalized: a.Status.String(),
			InDisplay:  a.InDisplay(),
			OutDisplay: a.OutDisplay(),
			InMinutes:  a.InMinutes,
			OutMinutes: a.OutMinutes,
			Ongoing:    a.Ongoing,
		}
		if left, ok := a.MinutesUntil(nowMinutes); ok {
			item.MinutesUntil = &left
		}
		out = append(out, item)
	}
	return out
}

type scheduleResponse struct {
	Now          time.Time      `json:"now"`
	NowDisplay   string         `json:"now_display"`
	Counts       map[string]int `json:"counts"`
	Appointments []appointment  `json:"appointments"`
	Unsaved      int            `json:"unsaved_writes"`
}

func (s *Server) current(c echo.Context) (*schedule.View, []models.Row, int, error) {
	snap, err := s.deps.Dashboard.Current(c.Request().Context())
	if err != nil {
		return nil, nil, 0, err
	}
	return &snap.View, snap.Rows, snap.Unsaved, nil
}

// GET /api/schedule
func (s *Server) handleSchedule(c echo.Context) error {
	view, _, unsaved, err := s.current(c)
	if err != nil {
		return s.fail(c, err)
	}

	counts := make(map[string]int)
	for st, n := range view.Counts() {
		key := st.String()
		if key == "" {
			key = "UNKNOWN"
		}
		counts[key] += n
	}

	return c.JSON(http.StatusOK, scheduleResponse{
		Now:          view.Now,
		NowDisplay:   view.Now.Format("03:04 PM"),
		Counts:       counts,
		Appointments: toAppointments(view.Appointments, view.NowMinutes),
		Unsaved:      unsaved,
	})
}

type chairResponse struct {
	Chair        string        `json:"chair"`
	Appointments []appointment `json:"appointments"`
}

// GET /api/schedule/chairs
func (s *Server) handleChairs(c echo.Context) error {
	view, _, _, err := s.current(c)
	if err != nil {
		return s.fail(c, err)
	}
	groups := view.ByChair(s.roster().Chairs)
	out := make([]chairResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, chairResponse{Chair: g.Chair, Appointments: toAppointments(g.Appointments, view.NowMinutes)})
	}
	return c.JSON(http.StatusOK, out)
}

// GET /api/schedule/chairs/:chair
func (s *Server) handleChair(c echo.Context) error {
	chair := strings.TrimSpace(c.Param("chair"))
	view, _, _, err := s.current(c)
	if err != nil {
		return s.fail(c, err)
	}
	list := view.Chair(chair)
	if len(list) == 0 && !s.roster().HasChair(chair) {
		return s.fail(c, fmt.Errorf("%w: chair %s", models.ErrRowNotFound, chair))
	}
	return c.JSON(http.StatusOK, chairResponse{Chair: chair, Appointments: toAppointments(list, view.NowMinutes)})
}

// GET /api/doctors/summary
func (s *Server) handleDoctors(c echo.Context) error {
	_, rows, _, err := s.current(c)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, schedule.DoctorSummary(rows))
}

type remindersResponse struct {
	WindowMinutes int                         `json:"window_minutes"`
	Alerts        []reminders.Alert           `json:"alerts"`
	Pending       []reminders.PendingReminder `json:"pending"`
	Snoozed       []reminders.SnoozedReminder `json:"snoozed"`
	SnoozeOptions []int                       `json:"snooze_options_minutes"`
}

// GET /api/reminders
func (s *Server) handleReminders(c echo.Context) error {
	view, _, _, err := s.current(c)
	if err != nil {
		return s.fail(c, err)
	}
	rem := s.deps.Reminders
	return c.JSON(http.StatusOK, remindersResponse{
		WindowMinutes: int(rem.Window() / time.Minute),
		Alerts:        nonNil(rem.LastAlerts()),
		Pending:       nonNil(rem.Pending(*view)),
		Snoozed:       nonNil(rem.Snoozed(*view)),
		SnoozeOptions: s.config.SnoozeOptions,
	})
}

type snoozeRequest struct {
	Seconds *int `json:"seconds"`
	Minutes *int `json:"minutes"`
}

type actionResponse struct {
	Write     reminders.Write `json:"write"`
	Persisted bool            `json:"persisted"`
}

// POST /api/reminders/:id/snooze
func (s *Server) handleSnooze(c echo.Context) error {
	var req snoozeRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	d := s.config.DefaultSnooze
	switch {
	case req.Seconds != nil && req.Minutes != nil:
		return badRequest(c, "give seconds or minutes, not both")
	case req.Seconds != nil:
		d = time.Duration(*req.Seconds) * time.Second
	case req.Minutes != nil:
		d = time.Duration(*req.Minutes) * time.Minute
	}

	w, err := s.deps.Reminders.Snooze(c.Request().Context(), c.Param("id"), d)
	return s.respondAction(c, w, err)
}

// DELETE /api/reminders/:id/snooze
func (s *Server) handleCancelSnooze(c echo.Context) error {
	w, err := s.deps.Reminders.CancelSnooze(c.Request().Context(), c.Param("id"))
	return s.respondAction(c, w, err)
}

// POST /api/reminders/:id/dismiss
func (s *Server) handleDismiss(c echo.Context) error {
	w, err := s.deps.Reminders.Dismiss(c.Request().Context(), c.Param("id"))
	return s.respondAction(c, w, err)
}

// DELETE /api/reminders/:id/dismiss
func (s *Server) handleClearDismiss(c echo.Context) error {
	w, err := s.deps.Reminders.ClearDismiss(c.Request().Context(), c.Param("id"))
	return s.respondAction(c, w, err)
}

func (s *Server) respondAction(c echo.Context, w reminders.Write, err error) error {
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, actionResponse{Write: w, Persisted: true})
}

// GET /api/events?limit=n
func (s *Server) handleEvents(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}
		limit = n
	}
	if s.deps.Feed == nil {
		return c.JSON(http.StatusOK, []events.Event{})
	}
	return c.JSON(http.StatusOK, nonNil(s.deps.Feed.Recent(limit)))
}

// POST /api/refresh
func (s *Server) handleRefresh(c echo.Context) error {
	snap, err := s.deps.Dashboard.Refresh(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// POST /api/rows
func (s *Server) handleAddRow(c echo.Context) error {
	var in service.RowInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	row, err := s.deps.Schedule.AddRow(c.Request().Context(), in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, row)
}

// PUT /api/rows/:id
func (s *Server) handleUpdateRow(c echo.Context) error {
	var in service.RowInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	row, err := s.deps.Schedule.UpdateRow(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, row)
}

// POST /api/rows/:id/clear
func (s *Server) handleClearRow(c echo.Context) error {
	row, err := s.deps.Schedule.ClearRow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, row)
}

// DELETE /api/rows/:id
func (s *Server) handleDeleteRow(c echo.Context) error {
	if err := s.deps.Schedule.DeleteRow(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type rosterResponse struct {
	*config.Roster
	SnoozeOptions []int `json:"snooze_options_minutes"`
}

// GET /api/roster
func (s *Server) handleRoster(c echo.Context) error {
	return c.JSON(http.StatusOK, rosterResponse{Roster: s.roster(), SnoozeOptions: s.config.SnoozeOptions})
}

func (s *Server) roster() *config.Roster {
	if s.deps.Schedule == nil {
		return config.DefaultRoster()
	}
	return s.deps.Schedule.Roster()
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
