package roster

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveHeaderMatchesAliases(t *testing.T) {
	schema, err := ResolveHeader([]string{"Athlete ID", "First Name", "Last Name", "user", " Refresh Token ", "ACCESS_TOKEN"})
	require.NoError(t, err)

	require.Equal(t, 1, schema.Column(FieldAthleteID))
	require.Equal(t, 2, schema.Column(FieldFirstname))
	require.Equal(t, 3, schema.Column(FieldLastname))
	require.Equal(t, 4, schema.Column(FieldUsername))
	require.Equal(t, 5, schema.Column(FieldRefreshToken))
	require.Equal(t, 6, schema.Column(FieldAccessToken))
}

func TestResolveHeaderMissingRefreshTokenFails(t *testing.T) {
	_, err := ResolveHeader([]string{"Athlete ID", "Firstname", "Lastname"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "refresh_token")
}

func TestExtractTrimsAndTolerateShortRows(t *testing.T) {
	schema, err := ResolveHeader([]string{"Firstname", "Lastname", "Refresh Token"})
	require.NoError(t, err)

	subject := schema.Extract(2, []string{" Alice ", "Rider"})
	require.Equal(t, "Alice", subject.Firstname)
	require.Equal(t, "Rider", subject.Lastname)
	require.Empty(t, subject.RefreshToken) // short row, missing cell reads empty
	require.Equal(t, "Alice Rider", subject.DisplayName())
	require.Equal(t, "2_Alice Rider", subject.Key())
}

func TestDisplayNameFallbacks(t *testing.T) {
	require.Equal(t, "speedy", Subject{RowIndex: 3, Username: "speedy"}.DisplayName())
	require.Equal(t, "42", Subject{RowIndex: 3, AthleteID: "42"}.DisplayName())
	require.Equal(t, "row-3", Subject{RowIndex: 3}.DisplayName())
}

func TestCSVSourceLoad(t *testing.T) {
	path := writeRoster(t, [][]string{
		{"Athlete ID", "Firstname", "Lastname", "Refresh Token"},
		{"42", "Alice", "Rider", "rt-alice"},
		{"", "Bob", "Runner", "rt-bob"},
	})

	src := NewCSVSource(path)
	subjects, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	require.Equal(t, 2, subjects[0].RowIndex)
	require.Equal(t, "rt-alice", subjects[0].RefreshToken)
	require.Equal(t, 3, subjects[1].RowIndex)
	require.Equal(t, "Bob Runner", subjects[1].DisplayName())
}

func TestCSVSourceWriteBackRewritesFile(t *testing.T) {
	path := writeRoster(t, [][]string{
		{"Athlete ID", "Firstname", "Refresh Token"},
		{"42", "Alice", "rt-old"},
	})

	src := NewCSVSource(path)
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.WriteBack(context.Background(), 2, FieldRefreshToken, "rt-rotated"))

	subjects, err := NewCSVSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rt-rotated", subjects[0].RefreshToken)
}

func TestCSVSourceWriteBackUnknownFieldIsNoop(t *testing.T) {
	path := writeRoster(t, [][]string{
		{"Firstname", "Refresh Token"},
		{"Alice", "rt-alice"},
	})

	src := NewCSVSource(path)
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	// No athlete_id column resolved, so the write-back is silently skipped.
	require.NoError(t, src.WriteBack(context.Background(), 2, FieldAthleteID, "42"))

	subjects, err := NewCSVSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rt-alice", subjects[0].RefreshToken)
}

func TestCSVSourceWriteBackRowOutOfRange(t *testing.T) {
	path := writeRoster(t, [][]string{
		{"Refresh Token"},
		{"rt-alice"},
	})

	src := NewCSVSource(path)
	_, err := src.Load(context.Background())
	require.NoError(t, err)

	require.Error(t, src.WriteBack(context.Background(), 9, FieldRefreshToken, "rt"))
}

func writeRoster(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}
