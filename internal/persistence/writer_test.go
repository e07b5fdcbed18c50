package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

type stubStore struct {
	err   error
	calls int
	last  models.FlowData
}

func (s *stubStore) UpdateFlowData(_ context.Context, _ uuid.UUID, flow models.FlowData) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.last = flow
	return nil
}

type stubCache struct {
	setErr     error
	clearErr   error
	setCalls   int
	clearCalls int
	clearedTo  int64
}

func (s *stubCache) SetRoomData(_ context.Context, _ *models.RoomData) error {
	s.setCalls++
	return s.setErr
}

func (s *stubCache) ClearPendingUpTo(_ context.Context, _ uuid.UUID, ts int64) error {
	s.clearCalls++
	s.clearedTo = ts
	return s.clearErr
}

func testRoom() *models.RoomData {
	return &models.RoomData{
		RoomID: uuid.New(),
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "n1"}},
			Edges: []models.Edge{},
		},
	}
}

// TestWriteSnapshot tests the durable-then-warm write pairing
func TestWriteSnapshot(t *testing.T) {
	log := utils.NewLogger("error")

	t.Run("writes durably, mirrors the cache and clears pending", func(t *testing.T) {
		store, cache := &stubStore{}, &stubCache{}
		w := NewFlowWriter(store, cache, log, time.Second, 30*time.Second, 0)

		require.NoError(t, w.WriteSnapshot(context.Background(), testRoom(), 42))
		assert.Equal(t, 1, store.calls)
		assert.Equal(t, []models.Node{{ID: "n1"}}, store.last.Nodes)
		assert.Equal(t, 1, cache.setCalls)
		assert.Equal(t, int64(42), cache.clearedTo)
	})

	t.Run("a durable failure stops the chain", func(t *testing.T) {
		store, cache := &stubStore{err: errors.New("connection refused")}, &stubCache{}
		w := NewFlowWriter(store, cache, log, time.Second, 30*time.Second, 0)

		err := w.WriteSnapshot(context.Background(), testRoom(), 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "durable write")
		assert.Zero(t, cache.setCalls, "the warm copy must not run ahead of the durable one")
		assert.Zero(t, cache.clearCalls)
	})

	t.Run("a warm cache failure keeps the pending list replayable", func(t *testing.T) {
		store, cache := &stubStore{}, &stubCache{setErr: errors.New("oom")}
		w := NewFlowWriter(store, cache, log, time.Second, 30*time.Second, 0)

		err := w.WriteSnapshot(context.Background(), testRoom(), 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "warm cache write")
		assert.Zero(t, cache.clearCalls)
	})

	t.Run("a pending clear failure does not fail the write", func(t *testing.T) {
		store, cache := &stubStore{}, &stubCache{clearErr: errors.New("timeout")}
		w := NewFlowWriter(store, cache, log, time.Second, 30*time.Second, 0)

		assert.NoError(t, w.WriteSnapshot(context.Background(), testRoom(), 42))
		assert.Equal(t, 1, cache.clearCalls)
	})
}

// TestBackoff tests the retry delay schedule
func TestBackoff(t *testing.T) {
	log := utils.NewLogger("error")

	t.Run("doubles from the initial delay up to the cap", func(t *testing.T) {
		w := NewFlowWriter(&stubStore{}, &stubCache{}, log, time.Second, 30*time.Second, 0)
		testCases := []struct {
			attempt int
			want    time.Duration
		}{
			{1, time.Second},
			{2, 2 * time.Second},
			{3, 4 * time.Second},
			{4, 8 * time.Second},
			{5, 16 * time.Second},
			{6, 30 * time.Second},
			{10, 30 * time.Second},
		}
		for _, tc := range testCases {
			assert.Equal(t, tc.want, w.Backoff(tc.attempt), "attempt %d", tc.attempt)
		}
	})

	t.Run("treats attempts below one as the first", func(t *testing.T) {
		w := NewFlowWriter(&stubStore{}, &stubCache{}, log, time.Second, 30*time.Second, 0)
		assert.Equal(t, time.Second, w.Backoff(0))
		assert.Equal(t, time.Second, w.Backoff(-3))
	})

	t.Run("jitter spreads delays proportionally", func(t *testing.T) {
		w := NewFlowWriter(&stubStore{}, &stubCache{}, log, time.Second, 30*time.Second, 0.2)
		lo := time.Duration(float64(30*time.Second) * 0.8)
		hi := time.Duration(float64(30*time.Second) * 1.2)
		for i := 0; i < 100; i++ {
			d := w.Backoff(10)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	})
}
