package rowstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"allotment/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Load(ctx context.Context) ([]models.Row, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Row), args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, rows []models.Row) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func TestRetryingStore(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()
	rows := []models.Row{{ID: "a", PatientName: "A"}}

	t.Run("FirstAttemptSucceeds", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return(rows, nil).Once()

		got, err := NewRetryingStore(inner, 3, time.Millisecond, &logger).Load(ctx)
		assert.NoError(t, err)
		assert.Equal(t, rows, got)
		inner.AssertExpectations(t)
	})

	t.Run("RecoversAfterTransientFailures", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return(nil, errors.New("zip: not a valid zip file")).Twice()
		inner.On("Load", ctx).Return(rows, nil).Once()

		got, err := NewRetryingStore(inner, 3, time.Millisecond, &logger).Load(ctx)
		assert.NoError(t, err)
		assert.Equal(t, rows, got)
		inner.AssertNumberOfCalls(t, "Load", 3)
	})

	t.Run("GivesUpAfterThreeAttempts", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return(nil, errors.New("corrupt")).Times(3)

		_, err := NewRetryingStore(inner, 3, time.Millisecond, &logger).Load(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Contains(t, err.Error(), "corrupt")
		inner.AssertNumberOfCalls(t, "Load", 3)
	})

	t.Run("StopsOnCancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(context.Background())
		cancel()
		inner := new(mockStore)
		inner.On("Load", cctx).Return(nil, context.Canceled).Once()

		_, err := NewRetryingStore(inner, 3, time.Hour, &logger).Load(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		inner.AssertNumberOfCalls(t, "Load", 1)
	})

	t.Run("SaveIsNotRetried", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Save", ctx, rows).Return(errors.New("disk full")).Once()

		err := NewRetryingStore(inner, 3, time.Millisecond, &logger).Save(ctx, rows)
		assert.Error(t, err)
		inner.AssertNumberOfCalls(t, "Save", 1)
	})
}

func TestTable_Update(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	t.Run("NoChangeSkipsSave", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return([]models.Row{{ID: "a"}}, nil).Once()

		table := NewTable(inner, logger)
		_, err := table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
			return rows, false, nil
		})
		assert.NoError(t, err)
		inner.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("SaveFailureIsPersistenceFailure", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return([]models.Row{{ID: "a"}}, nil).Once()
		inner.On("Save", ctx, mock.Anything).Return(errors.New("locked")).Once()

		table := NewTable(inner, logger)
		out, err := table.Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
			rows[0].Dismissed = true
			return rows, true, nil
		})
		assert.ErrorIs(t, err, ErrPersistenceFailure)
		require.Len(t, out, 1)
		assert.True(t, out[0].Dismissed, "edited rows are returned even when the save fails")
	})

	t.Run("LoadFailureAborts", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return(nil, ErrStorageUnavailable).Once()

		called := false
		_, err := NewTable(inner, logger).Update(ctx, func(rows []models.Row) ([]models.Row, bool, error) {
			called = true
			return rows, true, nil
		})
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.False(t, called)
	})

	t.Run("BackfillIDs", func(t *testing.T) {
		inner := new(mockStore)
		inner.On("Load", ctx).Return([]models.Row{{PatientName: "A"}, {PatientName: "B", ID: "b"}}, nil).Once()
		inner.On("Save", ctx, mock.MatchedBy(func(rows []models.Row) bool {
			return len(rows) == 2 && rows[0].ID != "" && rows[1].ID == "b"
		})).Return(nil).Once()

		n, err := NewTable(inner, logger).BackfillIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		inner.AssertExpectations(t)
	})
}
