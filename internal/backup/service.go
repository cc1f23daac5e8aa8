// Package backup keeps timestamped copies of the appointment table and
// builds export workbooks.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"allotment/internal/clock"
	"allotment/internal/metrics"
	"allotment/internal/rowstore"
)

const filePrefix = "allotment_"

// Uploader copies a finished backup file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, key, path string) error
}

type Config struct {
	Enabled bool

	// Dir receives backup files.
	Dir string

	// Interval between backups.
	// Default: 24h.
	Interval time.Duration

	// RetentionDays removes local backups older than this many days.
	// Zero keeps everything.
	RetentionDays int
}

type Service struct {
	config   Config
	table    *rowstore.Table
	uploader Uploader
	clock    clock.Clock
	logger   *zerolog.Logger
}

// NewService creates a backup service. uploader may be nil.
func NewService(cfg Config, table *rowstore.Table, uploader Uploader, clk clock.Clock, logger *zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "backup").Logger()
	return &Service{
		config:   cfg,
		table:    table,
		uploader: uploader,
		clock:    clk,
		logger:   &l,
	}
}

// Start runs a backup immediately and then every Interval until ctx is
// done. It blocks.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.config.Interval).Str("dir", s.config.Dir).Msg("Backup service started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes the current rows to a new workbook and uploads it
// when an uploader is configured. It returns the local path.
func (s *Service) PerformBackup(ctx context.Context) (path string, err error) {
	defer func() { metrics.IncBackup(err) }()

	if err = os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	rows, err := s.table.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load rows: %w", err)
	}

	name := filePrefix + s.clock.Now().Format("20060102_150405") + ".xlsx"
	path = filepath.Join(s.config.Dir, name)

	s.logger.Info().Str("path", path).Int("rows", len(rows)).Msg("Performing table backup")

	if err = rowstore.WriteWorkbook(path, "Schedule", rowstore.RowsToGrid(rows)); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if s.uploader != nil {
		if err = s.uploader.Upload(ctx, name, path); err != nil {
			return path, fmt.Errorf("upload backup: %w", err)
		}
		s.logger.Info().Str("key", name).Msg("Backup uploaded")
	}

	s.logger.Info().Msg("Backup completed successfully")
	return path, nil
}

// CleanupOldBackups removes backup files older than RetentionDays.
func (s *Service) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.Dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := s.clock.Now().AddDate(0, 0, -s.config.RetentionDays)

	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), filePrefix) || filepath.Ext(file.Name()) != ".xlsx" {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			if err := os.Remove(filepath.Join(s.config.Dir, file.Name())); err != nil {
				s.logger.Warn().Err(err).Str("file", file.Name()).Msg("Failed to delete old backup")
			}
		}
	}
}
