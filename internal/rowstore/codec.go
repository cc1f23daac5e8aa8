package rowstore

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"allotment/internal/models"
)

// Grid is a header row plus records, the shape every spreadsheet-like
// backend reads and writes.
type Grid struct {
	Header  []string
	Records [][]string
}

const checkMark = "✓"

// RowsToGrid lays rows out under the canonical columns followed by any
// extra columns, sorted.
func RowsToGrid(rows []models.Row) Grid {
	extraSet := make(map[string]struct{})
	for i := range rows {
		for k := range rows[i].Extra {
			extraSet[k] = struct{}{}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	header := append(append([]string{}, models.Columns...), extras...)
	records := make([][]string, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		if r.IsBlank() {
			continue
		}
		rec := []string{
			r.PatientID,
			r.PatientName,
			r.InTime,
			r.OutTime,
			r.Procedure,
			r.Doctor,
			r.AssistFirst,
			r.AssistSecond,
			r.AssistThird,
			r.CasePaper,
			r.Chair,
			encodeCheck(r.Suction),
			encodeCheck(r.Cleaning),
			r.Status,
			r.ID,
			encodeSnooze(r.SnoozeUntil),
			encodeFlag(r.Dismissed),
		}
		for _, k := range extras {
			rec = append(rec, r.Extra[k])
		}
		records = append(records, rec)
	}
	return Grid{Header: header, Records: records}
}

// GridToRows decodes records by header name. Column names are matched after
// trimming and case-insensitively; fully blank records are skipped.
func GridToRows(g Grid) []models.Row {
	index := make(map[string]int, len(g.Header))
	known := make(map[string]struct{}, len(models.Columns))
	for _, c := range models.Columns {
		known[strings.ToUpper(c)] = struct{}{}
	}

	var extras []int
	for i, h := range g.Header {
		name := strings.TrimSpace(h)
		key := strings.ToUpper(name)
		if _, ok := known[key]; ok {
			if _, dup := index[key]; !dup {
				index[key] = i
			}
			continue
		}
		if name != "" {
			extras = append(extras, i)
		}
	}

	rows := make([]models.Row, 0, len(g.Records))
	for _, rec := range g.Records {
		if blankRecord(rec) {
			continue
		}
		cell := func(col string) string {
			i, ok := index[strings.ToUpper(col)]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		r := models.Row{
			ID:           cell(models.ColRowID),
			PatientID:    cell(models.ColPatientID),
			PatientName:  cell(models.ColPatientName),
			InTime:       cell(models.ColInTime),
			OutTime:      cell(models.ColOutTime),
			Procedure:    cell(models.ColProcedure),
			Doctor:       cell(models.ColDoctor),
			AssistFirst:  cell(models.ColFirst),
			AssistSecond: cell(models.ColSecond),
			AssistThird:  cell(models.ColThird),
			CasePaper:    cell(models.ColCasePaper),
			Chair:        cell(models.ColChair),
			Suction:      decodeCheck(cell(models.ColSuction)),
			Cleaning:     decodeCheck(cell(models.ColCleaning)),
			Status:       cell(models.ColStatus),
			SnoozeUntil:  decodeSnooze(cell(models.ColSnoozeUntil)),
			Dismissed:    decodeFlag(cell(models.ColDismissed)),
		}
		for _, i := range extras {
			if i >= len(rec) {
				continue
			}
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[strings.TrimSpace(g.Header[i])] = rec[i]
		}
		rows = append(rows, r)
	}
	return rows
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func encodeCheck(b bool) string {
	if b {
		return checkMark
	}
	return ""
}

func decodeCheck(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FALSE", "0", "0.0", "NO", "N", "NAN", "NONE", "✗":
		return false
	}
	return true
}

func encodeFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func decodeFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "1", "1.0", "T", "YES", "Y":
		return true
	}
	return false
}

func encodeSnooze(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func decodeSnooze(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int64(f)
	return &n
}

// cellString renders a decoded JSON or Sheets API value as cell text.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return encodeFlag(val)
	case float64:
		if math.IsNaN(val) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}
