package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ClientMessageType enumerates what a client may send over the websocket.
type ClientMessageType string

const (
	ClientJoinRoom   ClientMessageType = "JOIN_ROOM"
	ClientFlowChange ClientMessageType = "FLOW_CHANGE"
	ClientCursorMove ClientMessageType = "CURSOR_MOVE"
)

// ClientMessage is the single inbound envelope. Type selects which of the
// remaining fields the server reads.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// JOIN_ROOM
	RoomID string `json:"roomId,omitempty"`
	Token  string `json:"token,omitempty"`

	// FLOW_CHANGE
	Change *ChangePayload `json:"change,omitempty"`

	// CURSOR_MOVE
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// ChangePayload is the client-supplied half of a change; the server attaches
// room, author and timestamp when it accepts it.
type ChangePayload struct {
	Type ChangeType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerMessageType enumerates outbound message kinds.
type ServerMessageType string

const (
	ServerRoomJoined        ServerMessageType = "ROOM_JOINED"
	ServerParticipantJoined ServerMessageType = "PARTICIPANT_JOINED"
	ServerParticipantLeft   ServerMessageType = "PARTICIPANT_LEFT"
	ServerFlowChange        ServerMessageType = "FLOW_CHANGE"
	ServerCursorMove        ServerMessageType = "CURSOR_MOVE"
	ServerConflict          ServerMessageType = "OPERATION_CONFLICT"
	ServerError             ServerMessageType = "ERROR"
)

// RoomJoinedMessage answers a successful join with the room snapshot.
// Participants lists everyone already present, excluding the joiner.
type RoomJoinedMessage struct {
	Type         ServerMessageType `json:"type"`
	RoomID       uuid.UUID         `json:"roomId"`
	FlowData     FlowData          `json:"flowData"`
	Participants []Participant     `json:"participants"`
	UserRole     Role              `json:"userRole"`
}

func NewRoomJoined(roomID uuid.UUID, flow FlowData, others []Participant, role Role) RoomJoinedMessage {
	if others == nil {
		others = []Participant{}
	}
	return RoomJoinedMessage{
		Type:         ServerRoomJoined,
		RoomID:       roomID,
		FlowData:     flow,
		Participants: others,
		UserRole:     role,
	}
}

// ParticipantJoinedMessage announces a new participant to the rest of the room.
type ParticipantJoinedMessage struct {
	Type        ServerMessageType `json:"type"`
	Participant Participant       `json:"participant"`
}

func NewParticipantJoined(p Participant) ParticipantJoinedMessage {
	return ParticipantJoinedMessage{Type: ServerParticipantJoined, Participant: p}
}

// ParticipantLeftMessage announces a departure.
type ParticipantLeftMessage struct {
	Type   ServerMessageType `json:"type"`
	UserID uuid.UUID         `json:"userId"`
}

func NewParticipantLeft(userID uuid.UUID) ParticipantLeftMessage {
	return ParticipantLeftMessage{Type: ServerParticipantLeft, UserID: userID}
}

// FlowChangeMessage carries one stamped change event to every participant.
type FlowChangeMessage struct {
	Type  ServerMessageType `json:"type"`
	Event ChangeEvent       `json:"event"`
}

func NewFlowChange(e ChangeEvent) FlowChangeMessage {
	return FlowChangeMessage{Type: ServerFlowChange, Event: e}
}

// CursorMoveMessage relays another participant's cursor position.
type CursorMoveMessage struct {
	Type   ServerMessageType `json:"type"`
	UserID uuid.UUID         `json:"userId"`
	Cursor XY                `json:"cursor"`
}

func NewCursorMove(userID uuid.UUID, cursor XY) CursorMoveMessage {
	return CursorMoveMessage{Type: ServerCursorMove, UserID: userID, Cursor: cursor}
}

// ConflictMessage tells the author of a rejected change what happened.
type ConflictMessage struct {
	Type     ServerMessageType `json:"type"`
	Conflict Conflict          `json:"conflict"`
}

func NewConflict(c Conflict) ConflictMessage {
	return ConflictMessage{Type: ServerConflict, Conflict: c}
}

// ErrorMessage reports a request-level failure on the session.
type ErrorMessage struct {
	Type    ServerMessageType `json:"type"`
	Message string            `json:"message"`
	Details string            `json:"details,omitempty"`
}

func NewError(message, details string) ErrorMessage {
	return ErrorMessage{Type: ServerError, Message: message, Details: details}
}
