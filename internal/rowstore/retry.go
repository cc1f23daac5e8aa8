package rowstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/models"
)

// RetryingStore retries Load a fixed number of times with a fixed pause.
// Backends occasionally hand back a truncated file while another process
// is writing it; a second read usually succeeds. Save is never retried here.
type RetryingStore struct {
	inner    RowStore
	attempts int
	delay    time.Duration
	logger   *zerolog.Logger
}

func NewRetryingStore(inner RowStore, attempts int, delay time.Duration, logger *zerolog.Logger) *RetryingStore {
	if attempts <= 0 {
		attempts = 3
	}
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RetryingStore{inner: inner, attempts: attempts, delay: delay, logger: logger}
}

func (s *RetryingStore) Load(ctx context.Context) ([]models.Row, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		rows, err := s.inner.Load(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if attempt == s.attempts {
			break
		}

		s.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.attempts).
			Msg("Row store load failed, retrying")

		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if errors.Is(lastErr, ErrStorageUnavailable) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, lastErr)
}

func (s *RetryingStore) Save(ctx context.Context, rows []models.Row) error {
	return s.inner.Save(ctx, rows)
}

func (s *RetryingStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.inner)
}

// Unwrap exposes the wrapped backend.
func (s *RetryingStore) Unwrap() RowStore {
	return s.inner
}
