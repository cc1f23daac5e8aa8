package backup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"allotment/internal/models"
	"allotment/internal/schedule"
)

// Workbook writes sheets one row at a time.
type Workbook struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
	sheets       map[string]bool
}

func NewWorkbook() *Workbook {
	return &Workbook{
		file:   excelize.NewFile(),
		sheets: make(map[string]bool),
	}
}

// AddSheet adds a new sheet and makes it current. Names are cleaned of
// characters Excel rejects, cut to 31 runes and made unique.
func (w *Workbook) AddSheet(name string) error {
	name = w.uniqueName(sheetName(name))

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheets[strings.ToLower(name)] = true
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers to the current sheet.
func (w *Workbook) WriteHeader(columns []string) error {
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	start := w.currentRow
	if err := w.WriteRow(values); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil && len(columns) > 0 {
		startCell, _ := excelize.CoordinatesToCellName(1, start)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), start)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

// WriteRow writes a data row to the current sheet.
func (w *Workbook) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", w.currentRow, err)
	}
	w.currentRow++
	return nil
}

func (w *Workbook) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

func (w *Workbook) uniqueName(name string) string {
	candidate := name
	for i := 2; w.sheets[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		r := []rune(name)
		if len(r)+len([]rune(suffix)) > 31 {
			r = r[:31-len([]rune(suffix))]
		}
		candidate = string(r) + suffix
	}
	return candidate
}

func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Unassigned"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}

// ChairColumns are the columns of each per-chair sheet.
var ChairColumns = []string{
	models.ColPatientID, models.ColPatientName, models.ColInTime, models.ColOutTime,
	models.ColProcedure, models.ColDoctor, models.ColFirst, models.ColSecond,
	models.ColThird, models.ColCasePaper, models.ColSuction, models.ColCleaning,
	models.ColStatus,
}

// ExportWorkbook writes the day as a workbook: every row on "Schedule",
// one sheet per chair in roster order, and a "Doctors" summary.
func ExportWorkbook(path string, rows []models.Row, view schedule.View, chairOrder []string) error {
	w := NewWorkbook()
	defer w.Close()

	if err := writeAll(w, rows); err != nil {
		return err
	}
	for _, g := range view.ByChair(chairOrder) {
		if err := writeChair(w, g); err != nil {
			return err
		}
	}
	if err := writeDoctors(w, schedule.DoctorSummary(rows)); err != nil {
		return err
	}

	if err := w.SaveToFile(path); err != nil {
		return fmt.Errorf("save export %s: %w", path, err)
	}
	return nil
}

func writeAll(w *Workbook, rows []models.Row) error {
	if err := w.AddSheet("Schedule"); err != nil {
		return err
	}
	if err := w.WriteHeader(models.Columns); err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		if r.IsTombstone() {
			continue
		}
		if err := w.WriteRow(rowValues(r, r.InTime, r.OutTime)); err != nil {
			return err
		}
	}
	return nil
}

func writeChair(w *Workbook, g schedule.ChairGroup) error {
	if err := w.AddSheet(g.Chair); err != nil {
		return err
	}
	if err := w.WriteHeader(ChairColumns); err != nil {
		return err
	}
	for i := range g.Appointments {
		a := &g.Appointments[i]
		r := a.Row
		values := []interface{}{
			r.PatientID, r.PatientName, a.InDisplay(), a.OutDisplay(),
			r.Procedure, r.Doctor, r.AssistFirst, r.AssistSecond,
			r.AssistThird, r.CasePaper, mark(r.Suction), mark(r.Cleaning),
			a.Status.String(),
		}
		if err := w.WriteRow(values); err != nil {
			return err
		}
	}
	return nil
}

func writeDoctors(w *Workbook, summary []schedule.DoctorCount) error {
	if err := w.AddSheet("Doctors"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Doctor", "Appointments", "By Status"}); err != nil {
		return err
	}
	for _, dc := range summary {
		statuses := make([]string, 0, len(dc.ByStatus))
		for s := range dc.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = fmt.Sprintf("%s: %d", s, dc.ByStatus[s])
		}
		if err := w.WriteRow([]interface{}{dc.Doctor, dc.Appointments, strings.Join(parts, ", ")}); err != nil {
			return err
		}
	}
	return nil
}

func rowValues(r *models.Row, in, out string) []interface{} {
	var snooze interface{}
	if r.SnoozeUntil != nil {
		snooze = *r.SnoozeUntil
	}
	return []interface{}{
		r.PatientID, r.PatientName, in, out, r.Procedure, r.Doctor,
		r.AssistFirst, r.AssistSecond, r.AssistThird, r.CasePaper, r.Chair,
		mark(r.Suction), mark(r.Cleaning), r.Status, r.ID, snooze, r.Dismissed,
	}
}

func mark(b bool) string {
	if b {
		return "✓"
	}
	return ""
}
