package rowstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"allotment/internal/models"
)

// SheetsConfig selects the spreadsheet tab that holds the table.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetID   string
	Sheet           string
	// RequestsPerMinute caps API calls; Google allows 60 per minute per user.
	RequestsPerMinute int
}

// SheetsStore keeps the table in a Google Sheets tab.
type SheetsStore struct {
	srv           *sheets.Service
	spreadsheetID string
	sheet         string
	limiter       *rate.Limiter
}

// NewSheetsStore authenticates with a service-account key file.
func NewSheetsStore(ctx context.Context, cfg SheetsConfig) (*SheetsStore, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}

	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newSheetsStore(srv, cfg), nil
}

func newSheetsStore(srv *sheets.Service, cfg SheetsConfig) *SheetsStore {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	sheet := cfg.Sheet
	if sheet == "" {
		sheet = "Sheet1"
	}
	return &SheetsStore{
		srv:           srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheet:         sheet,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
	}
}

func (s *SheetsStore) Load(ctx context.Context) ([]models.Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, sheetRange(s.sheet, "")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: sheets get: %w", ErrStorageUnavailable, err)
	}
	return GridToRows(valuesToGrid(resp.Values)), nil
}

// Save overwrites the table from A1 and then clears whatever was left below
// it, so a failed second step leaves stale rows rather than a missing table.
func (s *SheetsStore) Save(ctx context.Context, rows []models.Row) error {
	values := gridToValues(RowsToGrid(rows))

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, sheetRange(s.sheet, "A1"), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets update: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	tail := sheetRange(s.sheet, fmt.Sprintf("A%d:ZZ", len(values)+1))
	if _, err := s.srv.Spreadsheets.Values.Clear(s.spreadsheetID, tail, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets clear tail: %w", err)
	}
	return nil
}

func (s *SheetsStore) Ping(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: sheets ping: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// sheetRange builds an A1 range, quoting the tab name.
func sheetRange(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}

func valuesToGrid(values [][]interface{}) Grid {
	if len(values) == 0 {
		return Grid{}
	}
	toStrings := func(line []interface{}) []string {
		out := make([]string, len(line))
		for i, v := range line {
			out[i] = cellString(v)
		}
		return out
	}

	g := Grid{Header: toStrings(values[0])}
	for _, line := range values[1:] {
		g.Records = append(g.Records, toStrings(line))
	}
	return g
}

func gridToValues(g Grid) [][]interface{} {
	out := make([][]interface{}, 0, len(g.Records)+1)
	for _, line := range append([][]string{g.Header}, g.Records...) {
		vals := make([]interface{}, len(line))
		for i, v := range line {
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out
}
