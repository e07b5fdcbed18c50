package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai2k2yt/flowsync/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := NewWithClient(client, time.Hour, 30*time.Second)
	require.NoError(t, err)
	return c, mr
}

func pendingEvent(roomID uuid.UUID, ts int64) models.ChangeEvent {
	return models.ChangeEvent{
		Type:      models.ChangeGranularNodes,
		RoomID:    roomID,
		UserID:    uuid.New(),
		Timestamp: ts,
		NodeChanges: []models.NodeChange{
			{Type: models.NodeChangeRemove, ID: fmt.Sprintf("n%d", ts)},
		},
	}
}

// TestCacheRoomData tests the room snapshot roundtrip and TTL
func TestCacheRoomData(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	t.Run("miss returns nil without an error", func(t *testing.T) {
		room, err := c.GetRoomData(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, room)
	})

	t.Run("write then read returns the same snapshot", func(t *testing.T) {
		room := &models.RoomData{
			RoomID:   uuid.New(),
			OwnerID:  uuid.New(),
			IsPublic: true,
			FlowData: models.FlowData{
				Nodes: []models.Node{{ID: "n1", Position: models.XY{X: 1, Y: 2}}},
				Edges: []models.Edge{},
			},
			LastSyncedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, c.SetRoomData(ctx, room))

		got, err := c.GetRoomData(ctx, room.RoomID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, room.RoomID, got.RoomID)
		assert.Equal(t, room.OwnerID, got.OwnerID)
		assert.True(t, got.IsPublic)
		assert.Equal(t, room.FlowData, got.FlowData)
		assert.True(t, room.LastSyncedAt.Equal(got.LastSyncedAt))

		assert.Equal(t, time.Hour, mr.TTL(fmt.Sprintf("room:%s:data", room.RoomID)))
	})

	t.Run("expired snapshots read as a miss", func(t *testing.T) {
		room := &models.RoomData{RoomID: uuid.New()}
		require.NoError(t, c.SetRoomData(ctx, room))
		mr.FastForward(2 * time.Hour)

		got, err := c.GetRoomData(ctx, room.RoomID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

// TestCachePendingLog tests the timestamp-scored pending event list
func TestCachePendingLog(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	t.Run("drains in timestamp order regardless of insertion order", func(t *testing.T) {
		roomID := uuid.New()
		for _, ts := range []int64{30, 10, 20} {
			require.NoError(t, c.AppendPending(ctx, pendingEvent(roomID, ts)))
		}

		n, err := c.PendingCount(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		events, err := c.GetAndClearPending(ctx, roomID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(10), events[0].Timestamp)
		assert.Equal(t, int64(20), events[1].Timestamp)
		assert.Equal(t, int64(30), events[2].Timestamp)
		assert.Equal(t, models.ChangeGranularNodes, events[0].Type)
		assert.Equal(t, "n10", events[0].NodeChanges[0].ID)

		n, err = c.PendingCount(ctx, roomID)
		require.NoError(t, err)
		assert.Zero(t, n, "the drain clears the list")
	})

	t.Run("clear up to a watermark is inclusive", func(t *testing.T) {
		roomID := uuid.New()
		for _, ts := range []int64{10, 20, 30} {
			require.NoError(t, c.AppendPending(ctx, pendingEvent(roomID, ts)))
		}
		require.NoError(t, c.ClearPendingUpTo(ctx, roomID, 20))

		events, err := c.GetAndClearPending(ctx, roomID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, int64(30), events[0].Timestamp)
	})

	t.Run("draining an empty list returns nothing", func(t *testing.T) {
		events, err := c.GetAndClearPending(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

// TestCacheCursor tests the short-lived cursor keys
func TestCacheCursor(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	roomID, userID := uuid.New(), uuid.New()
	require.NoError(t, c.SetCursor(ctx, roomID, userID, models.XY{X: 12, Y: 34}))

	key := fmt.Sprintf("room:%s:cursor:%s", roomID, userID)
	require.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Second, mr.TTL(key))

	mr.FastForward(time.Minute)
	assert.False(t, mr.Exists(key), "stale cursors expire on their own")
}

// TestCachePing tests connectivity reporting
func TestCachePing(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
