package rowstore

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"allotment/internal/config"
)

// Open builds the configured backend wrapped with load retries. The
// returned closer releases connections and is never nil.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (RowStore, io.Closer, error) {
	sc := cfg.Storage
	logger = logger.With().Str("component", "rowstore").Str("backend", sc.Backend).Logger()

	var (
		backend RowStore
		closer  io.Closer = nopCloser{}
	)

	switch sc.Backend {
	case config.BackendExcel:
		xs := NewExcelStore(sc.Excel.Path, sc.Excel.Sheet)
		if !xs.Exists() && sc.Excel.CreateIfMissing {
			if err := xs.Save(ctx, nil); err != nil {
				return nil, nil, fmt.Errorf("create workbook: %w", err)
			}
			logger.Info().Str("path", sc.Excel.Path).Msg("Created empty workbook")
		}
		backend = xs

	case config.BackendSheets:
		ss, err := NewSheetsStore(ctx, SheetsConfig{
			CredentialsFile:   sc.Sheets.CredentialsFile,
			SpreadsheetID:     sc.Sheets.SpreadsheetID,
			Sheet:             sc.Sheets.Sheet,
			RequestsPerMinute: sc.Sheets.RequestsPerMinute,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = ss

	case config.BackendPostgres:
		ps, err := NewPostgresStore(ctx, PostgresConfig{
			DatabaseURL: sc.Postgres.DatabaseURL,
			MaxConns:    sc.Postgres.MaxConns,
			MinConns:    sc.Postgres.MinConns,
			Table:       sc.Postgres.Table,
			DocumentID:  sc.Postgres.DocumentID,
		})
		if err != nil {
			return nil, nil, err
		}
		backend, closer = ps, ps

	case config.BackendSQLite:
		ls, err := NewSQLiteStore(sc.SQLite.Path, sc.SQLite.DocumentID)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = ls, ls

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	logger.Info().Msg("Row store opened")
	return NewRetryingStore(backend, sc.LoadAttempts, cfg.LoadRetryDelay(), &logger), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
