package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"allotment/internal/clock"
	"allotment/internal/config"
	"allotment/internal/events"
	"allotment/internal/models"
	"allotment/internal/rowstore"
)

// RowInput carries the editable fields of a row. Nil fields are left
// unchanged on update and blank on create.
type RowInput struct {
	PatientID    *string `json:"patient_id,omitempty"`
	PatientName  *string `json:"patient_name,omitempty"`
	InTime       *string `json:"in_time,omitempty"`
	OutTime      *string `json:"out_time,omitempty"`
	Procedure    *string `json:"procedure,omitempty"`
	Doctor       *string `json:"doctor,omitempty"`
	AssistFirst  *string `json:"assist_first,omitempty"`
	AssistSecond *string `json:"assist_second,omitempty"`
	AssistThird  *string `json:"assist_third,omitempty"`
	CasePaper    *string `json:"case_paper,omitempty"`
	Chair        *string `json:"chair,omitempty"`
	Suction      *bool   `json:"suction,omitempty"`
	Cleaning     *bool   `json:"cleaning,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// ScheduleService edits rows of the table.
type ScheduleService struct {
	table  *rowstore.Table
	roster *config.RosterHolder
	bus    *events.EventBus
	logger zerolog.Logger
}

func NewScheduleService(table *rowstore.Table, roster *config.RosterHolder, bus *events.EventBus, logger zerolog.Logger) *ScheduleService {
	if roster == nil {
		roster = config.NewRosterHolder(config.DefaultRoster())
	}
	return &ScheduleService{
		table:  table,
		roster: roster,
		bus:    bus,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// AddRow appends a new WAITING row with a fresh id. The patient name and
// a readable in time are required.
func (s *ScheduleService) AddRow(ctx context.Context, in RowInput) (models.Row, error) {
	row := models.Row{Status: string(models.StatusWaiting)}
	if err := s.apply(&row, in); err != nil {
		return models.Row{}, err
	}
	if row.IsTombstone() {
		return models.Row{}, fmt.Errorf("%w: patient name is required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(row.InTime) == "" {
		return models.Row{}, fmt.Errorf("%w: in time is required", models.ErrInvalidInput)
	}
	if row.Status == "" {
		row.Status = string(models.StatusWaiting)
	}
	row.ID = rowstore.NewID()

	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		return append(rows, row), true, nil
	})
	if err != nil {
		return models.Row{}, err
	}

	s.logger.Info().Str("id", row.ID).Str("patient", row.PatientName).Msg("Row added")
	s.publish("Added "+row.PatientName, "add", row)
	return row, nil
}

// UpdateRow changes the given fields of row id. Blanking the patient name
// turns the row into a tombstone.
func (s *ScheduleService) UpdateRow(ctx context.Context, id string, in RowInput) (models.Row, error) {
	var updated models.Row
	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		idx, err := findRow(rows, id)
		if err != nil {
			return rows, false, err
		}
		row := rows[idx].Clone()
		if err := s.apply(&row, in); err != nil {
			return rows, false, err
		}
		if row.IsTombstone() {
			row.Clear()
		}
		rows[idx] = row
		updated = row
		return rows, true, nil
	})
	if err != nil {
		return models.Row{}, err
	}

	s.logger.Info().Str("id", updated.ID).Bool("cleared", updated.IsTombstone()).Msg("Row updated")
	s.publish("Updated "+displayName(updated), "update", updated)
	return updated, nil
}

// ClearRow blanks the business fields of row id and keeps its identity
// and reminder fields, so it can still be deleted later.
func (s *ScheduleService) ClearRow(ctx context.Context, id string) (models.Row, error) {
	var cleared models.Row
	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		idx, err := findRow(rows, id)
		if err != nil {
			return rows, false, err
		}
		rows[idx].Clear()
		cleared = rows[idx].Clone()
		return rows, true, nil
	})
	if err != nil {
		return models.Row{}, err
	}

	s.logger.Info().Str("id", cleared.ID).Msg("Row cleared")
	s.publish("Cleared row "+cleared.ID, "clear", cleared)
	return cleared, nil
}

// DeleteRow removes row id from the table. Tombstones can be deleted too.
func (s *ScheduleService) DeleteRow(ctx context.Context, id string) error {
	var removed models.Row
	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		idx, err := findRow(rows, id)
		if err != nil {
			return rows, false, err
		}
		removed = rows[idx]
		return append(rows[:idx], rows[idx+1:]...), true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("id", removed.ID).Msg("Row deleted")
	s.publish("Deleted "+displayName(removed), "delete", removed)
	return nil
}

// ImportRows appends imported rows with fresh ids and returns how many
// were added. Rows with no content are skipped, so empty slots that carry
// only a time or chair come across too; readable times are stored in the
// canonical form and unreadable ones are kept as they were.
func (s *ScheduleService) ImportRows(ctx context.Context, imported []models.Row) (int, error) {
	var add []models.Row
	for _, r := range imported {
		if r.IsBlank() {
			continue
		}
		r = r.Clone()
		r.ID = rowstore.NewID()
		r.SnoozeUntil = nil
		r.Dismissed = false
		r.InTime = canonicalOrRaw(r.InTime)
		r.OutTime = canonicalOrRaw(r.OutTime)
		if !r.IsTombstone() && strings.TrimSpace(r.Status) == "" {
			r.Status = string(models.StatusWaiting)
		}
		add = append(add, r)
	}
	if len(add) == 0 {
		return 0, nil
	}

	_, err := s.table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		return append(rows, add...), true, nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Int("rows", len(add)).Msg("Rows imported")
	s.publish(fmt.Sprintf("Imported %d rows", len(add)), "import", map[string]int{"rows": len(add)})
	return len(add), nil
}

// ImportFile imports the rows of an xlsx workbook.
func (s *ScheduleService) ImportFile(ctx context.Context, path, sheet string) (int, error) {
	rows, err := rowstore.ReadWorkbook(path, sheet)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return s.ImportRows(ctx, rows)
}

// Roster returns the current option lists.
func (s *ScheduleService) Roster() *config.Roster {
	return s.roster.Get()
}

func (s *ScheduleService) apply(row *models.Row, in RowInput) error {
	roster := s.roster.Get()

	setText(&row.PatientID, in.PatientID)
	setText(&row.PatientName, in.PatientName)
	setText(&row.Procedure, in.Procedure)
	setText(&row.CasePaper, in.CasePaper)

	if in.InTime != nil {
		v, err := canonicalTime("in time", *in.InTime)
		if err != nil {
			return err
		}
		row.InTime = v
	}
	if in.OutTime != nil {
		v, err := canonicalTime("out time", *in.OutTime)
		if err != nil {
			return err
		}
		row.OutTime = v
	}

	if in.Chair != nil {
		chair := strings.TrimSpace(*in.Chair)
		if chair != "" && !roster.HasChair(chair) {
			return fmt.Errorf("%w: unknown chair %q", models.ErrInvalidInput, chair)
		}
		row.Chair = chair
	}
	if in.Doctor != nil {
		doctor := strings.TrimSpace(*in.Doctor)
		if doctor != "" && !roster.HasDoctor(doctor) {
			return fmt.Errorf("%w: unknown doctor %q", models.ErrInvalidInput, doctor)
		}
		row.Doctor = doctor
	}
	for _, a := range []struct {
		dst *string
		src *string
	}{
		{&row.AssistFirst, in.AssistFirst},
		{&row.AssistSecond, in.AssistSecond},
		{&row.AssistThird, in.AssistThird},
	} {
		if a.src == nil {
			continue
		}
		name := strings.TrimSpace(*a.src)
		if name != "" && !roster.HasAssistant(name) {
			return fmt.Errorf("%w: unknown assistant %q", models.ErrInvalidInput, name)
		}
		*a.dst = name
	}

	if in.Suction != nil {
		row.Suction = *in.Suction
	}
	if in.Cleaning != nil {
		row.Cleaning = *in.Cleaning
	}
	if in.Status != nil {
		raw := strings.TrimSpace(*in.Status)
		st := models.ParseStatus(raw)
		if raw != "" && st == models.StatusUnknown {
			return fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, raw)
		}
		row.Status = st.String()
	}

	if in.InTime != nil || in.OutTime != nil {
		if err := checkInterval(row); err != nil {
			return err
		}
	}
	return nil
}

// checkInterval rejects an out time equal to the in time. An earlier out
// time is a next-day finish.
func checkInterval(row *models.Row) error {
	in, okIn := row.In()
	out, okOut := row.Out()
	if okIn && okOut && in == out {
		return fmt.Errorf("%w: out time must differ from in time", models.ErrInvalidInput)
	}
	return nil
}

func canonicalTime(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	t, ok := clock.Normalize(raw)
	if !ok {
		return "", fmt.Errorf("%w: unreadable %s %q", models.ErrInvalidInput, field, raw)
	}
	return t.String(), nil
}

func canonicalOrRaw(raw string) string {
	if t, ok := clock.Normalize(raw); ok {
		return t.String()
	}
	return strings.TrimSpace(raw)
}

func setText(dst, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func findRow(rows []models.Row, id string) (int, error) {
	if strings.TrimSpace(id) == "" {
		return -1, fmt.Errorf("%w: row id is required", models.ErrInvalidInput)
	}
	idx := models.FindByID(rows, id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", models.ErrRowNotFound, id)
	}
	return idx, nil
}

func displayName(r models.Row) string {
	if r.IsTombstone() {
		return "cleared row " + r.ID
	}
	return r.PatientName
}

func (s *ScheduleService) publish(message, action string, payload any) {
	if s.bus == nil {
		return
	}
	body := map[string]any{"action": action, "data": payload}
	if _, err := s.bus.PublishJSON(events.TypeRowChanged, message, body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish row change")
	}
}
