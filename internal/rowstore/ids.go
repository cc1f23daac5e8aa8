package rowstore

import (
	"strings"

	"github.com/google/uuid"

	"allotment/internal/models"
)

// NewID returns a fresh row id.
func NewID() string {
	return uuid.NewString()
}

// AssignMissingIDs sets an id on every row that has none and returns how
// many were assigned. Slots without a patient name get one too; only rows
// with no content at all are left alone.
func AssignMissingIDs(rows []models.Row) int {
	n := 0
	for i := range rows {
		if strings.TrimSpace(rows[i].ID) != "" || rows[i].IsBlank() {
			continue
		}
		rows[i].ID = NewID()
		n++
	}
	return n
}

// DuplicateIDs returns the indexes of rows whose id already appeared on an
// earlier row. The first occurrence keeps the id.
func DuplicateIDs(rows []models.Row) map[int]string {
	seen := make(map[string]struct{}, len(rows))
	dups := make(map[int]string)
	for i := range rows {
		id := strings.TrimSpace(rows[i].ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			dups[i] = id
			continue
		}
		seen[id] = struct{}{}
	}
	return dups
}
