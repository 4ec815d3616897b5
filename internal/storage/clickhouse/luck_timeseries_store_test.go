package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-ritual-lab/internal/domain"
	"perp-ritual-lab/internal/storage"
)

func TestLuckTimeseriesStore_InsertBulkAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLuckTimeseriesStore(conn)

	points := []*domain.LuckPoint{
		{SessionID: "s1", TimestampMs: 2000, Price: 68200, Luck: 0.6},
		{SessionID: "s1", TimestampMs: 1000, Price: 68000, Luck: 0.5},
		{SessionID: "s2", TimestampMs: 1500, Price: 3500, Luck: 0.4},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.BySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].TimestampMs)
	assert.Equal(t, int64(2000), got[1].TimestampMs)
	assert.InDelta(t, 0.5, got[0].Luck, 1e-9)
	assert.InDelta(t, 68200, got[1].Price, 1e-9)
}

func TestLuckTimeseriesStore_DuplicateFailsBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLuckTimeseriesStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.LuckPoint{
		{SessionID: "s1", TimestampMs: 1000, Price: 68000, Luck: 0.5},
	}))

	err := store.InsertBulk(ctx, []*domain.LuckPoint{
		{SessionID: "s1", TimestampMs: 2000, Price: 68100, Luck: 0.55},
		{SessionID: "s1", TimestampMs: 1000, Price: 68000, Luck: 0.5},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestLuckTimeseriesStore_IntraBatchDuplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLuckTimeseriesStore(conn)

	err := store.InsertBulk(context.Background(), []*domain.LuckPoint{
		{SessionID: "s1", TimestampMs: 1000, Luck: 0.5},
		{SessionID: "s1", TimestampMs: 1000, Luck: 0.6},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestLuckTimeseriesStore_EmptySessionReturnsNil(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLuckTimeseriesStore(conn)

	got, err := store.BySession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
