package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ID: "sess_abc123"}

	token, err := EncodeCursor(c)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.True(t, c.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, c.ID, got.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not-a-valid-token!!!")
	assert.Error(t, err)
}

func TestQueryBuilderComposesPredicates(t *testing.T) {
	q := newQueryBuilder()
	q.add("workspace_id = $%d", "ws_1")
	q.addIf(false, "device_id = $%d", "dev_1")
	q.addIf(true, "lifecycle = $%d", LifecycleEnded)

	assert.Equal(t, "WHERE workspace_id = $1 AND lifecycle = $2", q.where())
	assert.Equal(t, []any{"ws_1", LifecycleEnded}, q.args())
	assert.Equal(t, 3, q.nextPlaceholder())
}

func TestQueryBuilderEmptyWhere(t *testing.T) {
	q := newQueryBuilder()
	assert.Equal(t, "", q.where())
	assert.Nil(t, q.args())
}

func TestQueryBuilderKeysetBefore(t *testing.T) {
	q := newQueryBuilder()
	cursor := &Cursor{Timestamp: time.Unix(100, 0), ID: "evt_1"}
	q.addKeysetBefore("timestamp", "id", cursor)

	assert.Equal(t, "WHERE (timestamp, id) < ($1, $2)", q.where())
	require.Len(t, q.args(), 2)
}

func TestQueryBuilderKeysetNilCursorNoOp(t *testing.T) {
	q := newQueryBuilder()
	q.addKeysetBefore("timestamp", "id", nil)
	assert.Equal(t, "", q.where())
}
