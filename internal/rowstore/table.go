package rowstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/metrics"
	"allotment/internal/models"
)

// MutateFunc edits a freshly loaded row set. It returns the rows to keep
// and whether they must be saved.
type MutateFunc func(rows []models.Row) ([]models.Row, bool, error)

// Table serializes every load-modify-save against one RowStore so the
// poll cycle, reminder actions and edits never interleave inside this
// process. Writers outside the process still race under last-writer-wins.
type Table struct {
	mu     sync.Mutex
	store  RowStore
	logger zerolog.Logger
}

func NewTable(store RowStore, logger zerolog.Logger) *Table {
	return &Table{
		store:  store,
		logger: logger.With().Str("component", "rowstore").Logger(),
	}
}

// Store returns the underlying backend.
func (t *Table) Store() RowStore {
	return t.store
}

// Load reads the current rows.
func (t *Table) Load(ctx context.Context) ([]models.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// Update loads, applies fn and saves when fn reports a change. On a save
// failure the edited rows are still returned together with an error
// wrapping ErrPersistenceFailure.
func (t *Table) Update(ctx context.Context, fn MutateFunc) ([]models.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	out, changed, err := fn(rows)
	if err != nil {
		return rows, err
	}
	if !changed {
		return out, nil
	}

	start := time.Now()
	if err := t.store.Save(ctx, out); err != nil {
		metrics.ObserveStoreOperation("save", err, time.Since(start))
		t.logger.Error().Err(err).Int("rows", len(out)).Msg("Failed to save rows")
		return out, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	metrics.ObserveStoreOperation("save", nil, time.Since(start))
	metrics.SetRows(len(out))
	return out, nil
}

// BackfillIDs gives every row lacking an id a new one and saves once.
func (t *Table) BackfillIDs(ctx context.Context) (int, error) {
	assigned := 0
	_, err := t.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
		assigned = AssignMissingIDs(rows)
		return rows, assigned > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if assigned > 0 {
		t.logger.Info().Int("assigned", assigned).Msg("Generated stable row ids")
	}
	return assigned, nil
}

func (t *Table) load(ctx context.Context) ([]models.Row, error) {
	start := time.Now()
	rows, err := t.store.Load(ctx)
	metrics.ObserveStoreOperation("load", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	metrics.SetRows(len(rows))
	return rows, nil
}
