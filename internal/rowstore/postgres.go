package rowstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"allotment/internal/models"
)

// PostgresConfig points at the single-document table.
type PostgresConfig struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	Table       string
	DocumentID  string
}

// PostgresStore keeps the whole table as one JSONB document keyed by a
// fixed id.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	docID string
}

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresStore connects and creates the document table if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, cfg.DatabaseURL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool, table: cfg.Table, docID: cfg.DocumentID}
	if s.table == "" {
		s.table = "allotment_documents"
	}
	if s.docID == "" {
		s.docID = "main"
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, pgx.Identifier{s.table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.Row, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, pgx.Identifier{s.table}.Sanitize()),
		s.docID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return []models.Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load document: %w", ErrStorageUnavailable, err)
	}

	rows, err := decodeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

// Save upserts the document in one statement.
func (s *PostgresStore) Save(ctx context.Context, rows []models.Row) error {
	payload, err := encodeDocument(rows)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, payload, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		pgx.Identifier{s.table}.Sanitize()),
		s.docID, payload,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
