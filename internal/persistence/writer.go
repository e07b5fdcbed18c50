package persistence

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

// DurableStore is the slice of the durable store the writer needs.
type DurableStore interface {
	UpdateFlowData(ctx context.Context, roomID uuid.UUID, flow models.FlowData) error
}

// WarmCache is the slice of the warm cache the writer needs.
type WarmCache interface {
	SetRoomData(ctx context.Context, room *models.RoomData) error
	ClearPendingUpTo(ctx context.Context, roomID uuid.UUID, ts int64) error
}

// FlowWriter persists synced room snapshots. A durable write is always paired
// with a warm-cache write; the pending list is cleared only after both land,
// so a failure at any point leaves the batch replayable.
type FlowWriter struct {
	store DurableStore
	cache WarmCache
	log   *utils.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         float64
}

// NewFlowWriter creates a snapshot writer. jitter is the proportional spread
// applied to retry delays, e.g. 0.2 for ±20%.
func NewFlowWriter(store DurableStore, cache WarmCache, log *utils.Logger, initial, max time.Duration, jitter float64) *FlowWriter {
	return &FlowWriter{
		store:          store,
		cache:          cache,
		log:            log,
		initialBackoff: initial,
		maxBackoff:     max,
		jitter:         jitter,
	}
}

// WriteSnapshot writes the snapshot durably, mirrors it to the warm cache,
// then clears pending events up to upToTs. An error from either write leaves
// the pending list intact for the caller to retry.
func (w *FlowWriter) WriteSnapshot(ctx context.Context, room *models.RoomData, upToTs int64) error {
	if err := w.store.UpdateFlowData(ctx, room.RoomID, room.FlowData); err != nil {
		return fmt.Errorf("durable write: %w", err)
	}
	if err := w.cache.SetRoomData(ctx, room); err != nil {
		return fmt.Errorf("warm cache write: %w", err)
	}
	if err := w.cache.ClearPendingUpTo(ctx, room.RoomID, upToTs); err != nil {
		// The snapshot itself is safe; stale entries left behind are filtered
		// out by timestamp when the pending list is next drained.
		w.log.Warn(ctx, "failed to clear pending events for room %s: %v", room.RoomID, err)
	}
	return nil
}

// Backoff returns the delay before retry attempt n (1-based): exponential
// growth from the initial delay, capped, with proportional jitter.
func (w *FlowWriter) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(w.initialBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(w.maxBackoff) {
		d = float64(w.maxBackoff)
	}
	if w.jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*w.jitter
	}
	return time.Duration(d)
}
