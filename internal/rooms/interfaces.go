package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/models"
)

// DurableStore is the authoritative room record, read on cold start and
// written on debounced sync.
type DurableStore interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.RoomData, error)
	UpdateFlowData(ctx context.Context, roomID uuid.UUID, flow models.FlowData) error
}

// WarmCache holds the hot copy of room data between syncs, the per-room
// pending event list, and short-lived cursor positions.
type WarmCache interface {
	GetRoomData(ctx context.Context, roomID uuid.UUID) (*models.RoomData, error)
	SetRoomData(ctx context.Context, room *models.RoomData) error
	AppendPending(ctx context.Context, event models.ChangeEvent) error
	GetAndClearPending(ctx context.Context, roomID uuid.UUID) ([]models.ChangeEvent, error)
	ClearPendingUpTo(ctx context.Context, roomID uuid.UUID, ts int64) error
	PendingCount(ctx context.Context, roomID uuid.UUID) (int64, error)
	SetCursor(ctx context.Context, roomID, userID uuid.UUID, pos models.XY) error
}

// SnapshotWriter persists a synced snapshot as a paired durable-then-warm
// write and prices retry delays.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, room *models.RoomData, upToTs int64) error
	Backoff(attempt int) time.Duration
}

// Transport is one participant's outbound message stream. Send must not
// block; a returned error marks the transport dead and the participant is
// dropped. Close is idempotent.
type Transport interface {
	Send(v any) error
	Close()
}

// AccessOracle resolves identity and room roles for joins.
type AccessOracle interface {
	Authenticate(token string) (models.Principal, error)
	RoleIn(ctx context.Context, roomID, userID uuid.UUID) (models.Role, error)
}
