package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestParseCursorReadsEncodedCursor(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 1, 5, 9, 0, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(want)
	assert.NotContains(t, token, "=")

	got, err := ParseCursor(token)
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	for _, token := range []string{"%%%", rawToken("no-separator"), rawToken("yesterday|" + uuid.NewString()), rawToken("2026-01-05T09:00:00Z|nope")} {
		_, err := ParseCursor(token)
		assert.Error(t, err, token)
	}
}

func TestPageTrimsAndEmitsNextCursor(t *testing.T) {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 3)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	key := func(c Cursor) Cursor { return c }

	page, next := Page(rows, Params{Limit: 2}, key)
	require.Len(t, page, 2)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[1].ID, cursor.ID)

	page, next = Page(rows[:2], Params{Limit: 2}, key)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}

func TestScopeRejectsBadCursor(t *testing.T) {
	_, err := Scope(Params{Cursor: "%%%"})
	assert.Error(t, err)

	scope, err := Scope(Params{})
	require.NoError(t, err)
	assert.NotNil(t, scope)
}

func rawToken(payload string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}
