package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/rooms"
)

// GetRoom loads a room row, including its flow document.
func (db *Database) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.RoomData, error) {
	var (
		room models.RoomData
		raw  []byte
	)
	err := db.queryRow(ctx, "rooms.get",
		`SELECT id, owner_id, is_public, flow_data, updated_at
		 FROM rooms WHERE id = $1`,
		roomID,
	).Scan(&room.RoomID, &room.OwnerID, &room.IsPublic, &raw, &room.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rooms.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	if len(raw) == 0 {
		room.FlowData = models.EmptyFlowData()
	} else if err := json.Unmarshal(raw, &room.FlowData); err != nil {
		return nil, fmt.Errorf("failed to decode flow data for room %s: %w", roomID, err)
	}
	room.FlowData.Normalize()
	return &room, nil
}

// UpdateFlowData persists the room's flow document.
func (db *Database) UpdateFlowData(ctx context.Context, roomID uuid.UUID, flow models.FlowData) error {
	flow.Normalize()
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow data for room %s: %w", roomID, err)
	}

	tag, err := db.exec(ctx, "rooms.update_flow",
		`UPDATE rooms SET flow_data = $1, updated_at = NOW() WHERE id = $2`,
		raw, roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to update flow data for room %s: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return rooms.ErrRoomNotFound
	}
	return nil
}

// GetParticipantRole returns the explicit role granted to a user in a room,
// or ErrNoParticipant when no grant exists.
func (db *Database) GetParticipantRole(ctx context.Context, roomID, userID uuid.UUID) (models.Role, error) {
	var role models.Role
	err := db.queryRow(ctx, "room_participants.get_role",
		`SELECT role FROM room_participants WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", rooms.ErrNoParticipant
	}
	if err != nil {
		return "", fmt.Errorf("failed to load participant role: %w", err)
	}
	return role, nil
}
