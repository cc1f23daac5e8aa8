package rowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSheetRange(t *testing.T) {
	assert.Equal(t, "'Sheet1'", sheetRange("Sheet1", ""))
	assert.Equal(t, "'Today''s List'!A1", sheetRange("Today's List", "A1"))
	assert.Equal(t, "'OP 1'!A5:ZZ", sheetRange("OP 1", "A5:ZZ"))
}

func TestValuesToGrid(t *testing.T) {
	values := [][]interface{}{
		{"Patient Name", "In Time", "SUCTION", "REMINDER_ROW_ID", "REMINDER_SNOOZE_UNTIL"},
		{"Nisha", 9.3, true, "n-1", float64(1735712345)},
		{"Omar"},
	}

	rows := GridToRows(valuesToGrid(values))
	require.Len(t, rows, 2)
	assert.Equal(t, "9.3", rows[0].InTime)
	assert.True(t, rows[0].Suction)
	assert.Equal(t, int64(1735712345), *rows[0].SnoozeUntil)
	assert.Equal(t, "Omar", rows[1].PatientName)

	assert.Empty(t, valuesToGrid(nil).Header)
}

func TestGridToValues(t *testing.T) {
	g := RowsToGrid(sampleRows()[:1])
	values := gridToValues(g)

	require.Len(t, values, 2)
	assert.Equal(t, "Patient ID", values[0][0])
	assert.Equal(t, "P-100", values[1][0])
	assert.Equal(t, len(g.Header), len(values[1]))
}
