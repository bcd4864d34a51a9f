package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2025-01-05T00:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestBuildCursorPageInfo(t *testing.T) {
	items := []*int{intPtr(1), intPtr(2), intPtr(3)}
	info, page := BuildCursorPageInfo(items, 2, func(v *int) string { return "next" })
	assert.True(t, info.HasMore)
	assert.Equal(t, "next", info.NextPageToken)
	assert.Len(t, page, 2)

	info, page = BuildCursorPageInfo(items, 5, func(v *int) string { return "next" })
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
	assert.Len(t, page, 3)
}

func TestPaginationSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Size())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Size())
}

func intPtr(v int) *int { return &v }
