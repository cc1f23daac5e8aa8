package rowstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "allotment.db"), "")
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows, "missing document loads as an empty table")

	require.NoError(t, store.Save(ctx, sampleRows()))
	rows, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, sampleRows()[0], rows[0])

	// Saving again replaces the document.
	require.NoError(t, store.Save(ctx, sampleRows()[:1]))
	rows, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.NoError(t, store.Ping(ctx))
}
