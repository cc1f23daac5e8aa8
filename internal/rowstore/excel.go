package rowstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"allotment/internal/models"
)

// ExcelStore keeps the table in one sheet of a local xlsx workbook.
type ExcelStore struct {
	path  string
	sheet string
}

func NewExcelStore(path, sheet string) *ExcelStore {
	return &ExcelStore{path: path, sheet: sheet}
}

func (s *ExcelStore) Path() string { return s.path }

// Exists reports whether the workbook file is present.
func (s *ExcelStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *ExcelStore) Load(ctx context.Context) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: workbook %s does not exist", ErrStorageUnavailable, s.path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, s.path, err)
	}
	defer f.Close()

	raw, err := f.GetRows(s.sheetName(f))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStorageUnavailable, s.path, err)
	}
	return GridToRows(gridFromSheet(raw)), nil
}

func (s *ExcelStore) Save(ctx context.Context, rows []models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sheet := s.sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	return WriteWorkbook(s.path, sheet, RowsToGrid(rows))
}

func (s *ExcelStore) sheetName(f *excelize.File) string {
	list := f.GetSheetList()
	for _, name := range list {
		if name == s.sheet {
			return name
		}
	}
	if len(list) > 0 {
		return list[0]
	}
	return "Sheet1"
}

// ReadWorkbook reads the first sheet (or the named one) of any xlsx file.
func ReadWorkbook(path, sheet string) ([]models.Row, error) {
	return NewExcelStore(path, sheet).Load(context.Background())
}

// WriteWorkbook writes the grid to a temporary file next to path and
// renames it into place, so readers never see a half-written workbook.
func WriteWorkbook(path, sheet string, g Grid) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}

	lines := append([][]string{g.Header}, g.Records...)
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(line))
		for j, v := range line {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".allotment-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

func gridFromSheet(raw [][]string) Grid {
	if len(raw) == 0 {
		return Grid{}
	}
	return Grid{Header: raw[0], Records: raw[1:]}
}
