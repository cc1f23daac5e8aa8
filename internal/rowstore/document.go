package rowstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"allotment/internal/models"
)

// The database backends keep the whole table as one JSON document: an
// array of records keyed by column name.

func encodeDocument(rows []models.Row) ([]byte, error) {
	g := RowsToGrid(rows)
	records := make([]map[string]any, 0, len(g.Records))
	for _, rec := range g.Records {
		m := make(map[string]any, len(g.Header))
		for i, col := range g.Header {
			m[col] = documentValue(col, rec[i])
		}
		records = append(records, m)
	}
	return json.Marshal(records)
}

func decodeDocument(data []byte) ([]models.Row, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []models.Row{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	header := append([]string{}, models.Columns...)
	seen := make(map[string]struct{}, len(header))
	for _, c := range header {
		seen[c] = struct{}{}
	}
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
	}

	g := Grid{Header: header, Records: make([][]string, 0, len(records))}
	for _, rec := range records {
		cells := make([]string, len(header))
		for i, col := range header {
			cells[i] = cellString(rec[col])
		}
		g.Records = append(g.Records, cells)
	}
	return GridToRows(g), nil
}

// documentValue keeps booleans and the snooze timestamp typed in JSON.
func documentValue(col, cell string) any {
	switch col {
	case models.ColSuction, models.ColCleaning:
		return decodeCheck(cell)
	case models.ColDismissed:
		return decodeFlag(cell)
	case models.ColSnoozeUntil:
		if v := decodeSnooze(cell); v != nil {
			return *v
		}
		return nil
	default:
		return cell
	}
}
