// Package roster reads the athlete list from a spreadsheet-shaped source
// and resolves its headers once, at load time, through an explicit alias
// table. A required column with no matching alias fails the load instead of
// silently defaulting.
package roster

import (
	"context"
	"fmt"
	"strings"
)

// Field names a canonical roster column.
type Field string

const (
	FieldAthleteID    Field = "athlete_id"
	FieldFirstname    Field = "firstname"
	FieldLastname     Field = "lastname"
	FieldUsername     Field = "username"
	FieldRefreshToken Field = "refresh_token"
	FieldAccessToken  Field = "access_token"
)

// aliases maps each canonical field to the header spellings seen in the
// wild. Matching is case-insensitive after trimming.
var aliases = map[Field][]string{
	FieldAthleteID:    {"Athlete ID", "AthleteID", "Athlete Id", "athlete id", "Athlete_Id"},
	FieldFirstname:    {"Firstname", "First Name", "First"},
	FieldLastname:     {"Lastname", "Last Name", "Last"},
	FieldUsername:     {"Username", "user"},
	FieldRefreshToken: {"Refresh Token", "RefreshToken", "refresh token", "refresh_token"},
	FieldAccessToken:  {"Access Token", "AccessToken", "access token", "access_token"},
}

// requiredFields must resolve for the roster to load at all.
var requiredFields = []Field{FieldRefreshToken}

// Subject is one roster row in its fixed internal shape.
type Subject struct {
	RowIndex     int // 1-based spreadsheet row; the first data row is 2.
	AthleteID    string
	Firstname    string
	Lastname     string
	Username     string
	RefreshToken string
	AccessToken  string
}

// DisplayName derives the human label used in logs and records.
func (s Subject) DisplayName() string {
	name := strings.TrimSpace(s.Firstname + " " + s.Lastname)
	if name != "" {
		return name
	}
	if s.Username != "" {
		return s.Username
	}
	if s.AthleteID != "" {
		return s.AthleteID
	}
	return fmt.Sprintf("row-%d", s.RowIndex)
}

// Key is the opaque stable checkpoint key: roster position plus name.
func (s Subject) Key() string {
	return fmt.Sprintf("%d_%s", s.RowIndex, s.DisplayName())
}

// Source exposes the roster and accepts best-effort write-backs of rotated
// credentials and back-filled identity.
type Source interface {
	Load(ctx context.Context) ([]Subject, error)
	WriteBack(ctx context.Context, rowIndex int, field Field, value string) error
}

// Schema maps canonical fields to 1-based column indexes for one header row.
type Schema struct {
	cols map[Field]int
}

// ResolveHeader matches a header row against the alias table. Missing
// required fields are an error.
func ResolveHeader(headers []string) (Schema, error) {
	schema := Schema{cols: make(map[Field]int)}
	for field, names := range aliases {
		for i, h := range headers {
			if matchesAny(h, names) {
				schema.cols[field] = i + 1
				break
			}
		}
	}
	for _, field := range requiredFields {
		if _, ok := schema.cols[field]; !ok {
			return Schema{}, fmt.Errorf("roster header has no column for %q (accepted: %s)", field, strings.Join(aliases[field], ", "))
		}
	}
	return schema, nil
}

// Column returns the 1-based column index for field, or 0 when the header
// had no matching alias.
func (s Schema) Column(field Field) int {
	return s.cols[field]
}

// Extract builds a Subject from one data row using the resolved columns.
func (s Schema) Extract(rowIndex int, row []string) Subject {
	return Subject{
		RowIndex:     rowIndex,
		AthleteID:    s.cell(row, FieldAthleteID),
		Firstname:    s.cell(row, FieldFirstname),
		Lastname:     s.cell(row, FieldLastname),
		Username:     s.cell(row, FieldUsername),
		RefreshToken: s.cell(row, FieldRefreshToken),
		AccessToken:  s.cell(row, FieldAccessToken),
	}
}

func (s Schema) cell(row []string, field Field) string {
	col := s.cols[field]
	if col == 0 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

func matchesAny(header string, names []string) bool {
	h := strings.TrimSpace(strings.ToLower(header))
	for _, n := range names {
		if h == strings.TrimSpace(strings.ToLower(n)) {
			return true
		}
	}
	return false
}
