package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/rooms"
)

// RoomStore is the slice of the durable store the oracle needs.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.RoomData, error)
	GetParticipantRole(ctx context.Context, roomID, userID uuid.UUID) (models.Role, error)
}

// Oracle answers identity and authorization questions for room joins.
type Oracle struct {
	jwt   *JWTManager
	store RoomStore
}

func NewOracle(jwt *JWTManager, store RoomStore) *Oracle {
	return &Oracle{jwt: jwt, store: store}
}

// Authenticate resolves a bearer token to a principal.
func (o *Oracle) Authenticate(token string) (models.Principal, error) {
	claims, err := o.jwt.ValidateToken(token)
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", rooms.ErrAuthFailed, err)
	}
	if claims.UserID == uuid.Nil {
		return models.Principal{}, fmt.Errorf("%w: token carries no user id", rooms.ErrAuthFailed)
	}
	return models.Principal{UserID: claims.UserID, Name: claims.Name}, nil
}

// RoleIn resolves the user's role in a room. Owners outrank participant
// grants; public rooms grant EDITOR to everyone else.
func (o *Oracle) RoleIn(ctx context.Context, roomID, userID uuid.UUID) (models.Role, error) {
	room, err := o.store.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.OwnerID == userID {
		return models.RoleOwner, nil
	}

	role, err := o.store.GetParticipantRole(ctx, roomID, userID)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, rooms.ErrNoParticipant) {
		return "", err
	}

	if room.IsPublic {
		return models.RoleEditor, nil
	}
	return "", rooms.ErrAccessDenied
}

// MayAccess reports whether the user may enter the room at all.
func (o *Oracle) MayAccess(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	_, err := o.RoleIn(ctx, roomID, userID)
	if errors.Is(err, rooms.ErrAccessDenied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
