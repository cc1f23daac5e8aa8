// Package rowstore persists the appointment table. Every backend stores
// the whole table and is interchangeable behind RowStore.
package rowstore

import (
	"context"
	"errors"

	"allotment/internal/models"
)

var (
	// ErrStorageUnavailable means the backend could not be read, or returned
	// data that could not be decoded, after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPersistenceFailure means a write did not reach the backend.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// RowStore loads and saves the full ordered row set.
type RowStore interface {
	Load(ctx context.Context) ([]models.Row, error)
	Save(ctx context.Context, rows []models.Row) error
}

// Pinger is implemented by backends with a cheap connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store, falling back to a full load when the backend has no
// cheaper check.
func Ping(ctx context.Context, s RowStore) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.Load(ctx)
	return err
}
