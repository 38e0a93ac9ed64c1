package roster

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var sheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// SheetsSource reads the roster from the first sheet of a Google
// spreadsheet using a service account, and mirrors rotated tokens and
// back-filled identity into the sheet.
type SheetsSource struct {
	svc           *sheets.Service
	spreadsheetID string
	schema        Schema
}

// NewSheetsSource authenticates with the service-account JSON and targets
// the spreadsheet named by sheetURL.
func NewSheetsSource(ctx context.Context, credsJSON []byte, sheetURL string) (*SheetsSource, error) {
	m := sheetURLPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return nil, fmt.Errorf("cannot extract spreadsheet id from %q", sheetURL)
	}

	cfg, err := google.JWTConfigFromJSON(credsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsSource{svc: svc, spreadsheetID: m[1]}, nil
}

// Load implements Source.
func (s *SheetsSource) Load(ctx context.Context) ([]Subject, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, "A:ZZ").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", s.spreadsheetID)
	}

	headers := toStrings(resp.Values[0])
	schema, err := ResolveHeader(headers)
	if err != nil {
		return nil, err
	}
	s.schema = schema

	subjects := make([]Subject, 0, len(resp.Values)-1)
	for i, raw := range resp.Values[1:] {
		subjects = append(subjects, schema.Extract(i+2, toStrings(raw)))
	}
	return subjects, nil
}

// WriteBack implements Source. Fields whose header had no alias are ignored.
func (s *SheetsSource) WriteBack(ctx context.Context, rowIndex int, field Field, value string) error {
	col := s.schema.Column(field)
	if col == 0 {
		return nil
	}
	cell := fmt.Sprintf("%s%d", columnLetter(col), rowIndex)
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cell, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update sheet cell %s: %w", cell, err)
	}
	return nil
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// columnLetter converts a 1-based column index to its A1 notation letters.
func columnLetter(col int) string {
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}
