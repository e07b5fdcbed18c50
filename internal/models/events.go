package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ChangeType discriminates the five mutation kinds a room accepts.
type ChangeType string

const (
	ChangeBulkNodes     ChangeType = "BULK_NODES"
	ChangeGranularNodes ChangeType = "GRANULAR_NODES"
	ChangeBulkEdges     ChangeType = "BULK_EDGES"
	ChangeGranularEdges ChangeType = "GRANULAR_EDGES"
	ChangeCursorMove    ChangeType = "CURSOR_MOVE"
)

// Valid reports whether t is one of the known change kinds.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeBulkNodes, ChangeGranularNodes, ChangeBulkEdges, ChangeGranularEdges, ChangeCursorMove:
		return true
	}
	return false
}

// Persistent reports whether events of this kind participate in the sync
// pipeline. Cursor moves are fanned out live and never persisted.
func (t ChangeType) Persistent() bool {
	return t != ChangeCursorMove
}

// NodeChangeType discriminates granular node mutations.
type NodeChangeType string

const (
	NodeChangeAdd        NodeChangeType = "add"
	NodeChangeRemove     NodeChangeType = "remove"
	NodeChangeReplace    NodeChangeType = "replace"
	NodeChangePosition   NodeChangeType = "position"
	NodeChangeDimensions NodeChangeType = "dimensions"
	NodeChangeSelect     NodeChangeType = "select"
)

// NodeChange is one granular node mutation. Type selects the variant; the
// remaining fields are populated per variant:
//
//	add                 -> Item
//	remove              -> ID
//	replace             -> ID, Item
//	position            -> ID, Position, optional PositionAbsolute
//	dimensions          -> ID, Dimensions
//	select              -> ID, Selected
type NodeChange struct {
	Type             NodeChangeType `json:"type"`
	ID               string         `json:"id,omitempty"`
	Item             *Node          `json:"item,omitempty"`
	Position         *XY            `json:"position,omitempty"`
	PositionAbsolute *XY            `json:"positionAbsolute,omitempty"`
	Dimensions       *Dimensions    `json:"dimensions,omitempty"`
	Selected         *bool          `json:"selected,omitempty"`
}

// TargetID returns the node id the change addresses.
func (c NodeChange) TargetID() string {
	if c.Type == NodeChangeAdd && c.Item != nil {
		return c.Item.ID
	}
	if c.Type == NodeChangeReplace && c.ID == "" && c.Item != nil {
		return c.Item.ID
	}
	return c.ID
}

// EdgeChangeType discriminates granular edge mutations.
type EdgeChangeType string

const (
	EdgeChangeAdd     EdgeChangeType = "add"
	EdgeChangeRemove  EdgeChangeType = "remove"
	EdgeChangeReplace EdgeChangeType = "replace"
	EdgeChangeSelect  EdgeChangeType = "select"
)

// EdgeChange is one granular edge mutation, shaped like NodeChange.
type EdgeChange struct {
	Type     EdgeChangeType `json:"type"`
	ID       string         `json:"id,omitempty"`
	Item     *Edge          `json:"item,omitempty"`
	Selected *bool          `json:"selected,omitempty"`
}

// TargetID returns the edge id the change addresses.
func (c EdgeChange) TargetID() string {
	if c.Type == EdgeChangeAdd && c.Item != nil {
		return c.Item.ID
	}
	if c.Type == EdgeChangeReplace && c.ID == "" && c.Item != nil {
		return c.Item.ID
	}
	return c.ID
}

// ChangeEvent is one room mutation flowing through the pipelines. Exactly one
// payload field is set, selected by Type. Timestamp is the server-assigned
// logical clock in unix milliseconds, strictly increasing per room; events
// are immutable once stamped.
type ChangeEvent struct {
	Type      ChangeType
	RoomID    uuid.UUID
	UserID    uuid.UUID
	Timestamp int64

	Nodes       []Node
	Edges       []Edge
	NodeChanges []NodeChange
	EdgeChanges []EdgeChange
	Cursor      *XY
}

// changeEventWire is the envelope form {type, roomId, userId, data, timestamp}.
type changeEventWire struct {
	Type      ChangeType      `json:"type"`
	RoomID    uuid.UUID       `json:"roomId"`
	UserID    uuid.UUID       `json:"userId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON encodes the event in its wire form; Data holds the payload of
// whichever variant Type selects.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e.Type {
	case ChangeBulkNodes:
		nodes := e.Nodes
		if nodes == nil {
			nodes = []Node{}
		}
		data, err = json.Marshal(nodes)
	case ChangeBulkEdges:
		edges := e.Edges
		if edges == nil {
			edges = []Edge{}
		}
		data, err = json.Marshal(edges)
	case ChangeGranularNodes:
		data, err = json.Marshal(e.NodeChanges)
	case ChangeGranularEdges:
		data, err = json.Marshal(e.EdgeChanges)
	case ChangeCursorMove:
		data, err = json.Marshal(e.Cursor)
	default:
		return nil, fmt.Errorf("marshal change event: unknown type %q", e.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(changeEventWire{
		Type:      e.Type,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Data:      data,
		Timestamp: e.Timestamp,
	})
}

// UnmarshalJSON decodes the wire form, dispatching Data on Type.
func (e *ChangeEvent) UnmarshalJSON(raw []byte) error {
	var wire changeEventWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	out := ChangeEvent{
		Type:      wire.Type,
		RoomID:    wire.RoomID,
		UserID:    wire.UserID,
		Timestamp: wire.Timestamp,
	}
	if err := out.decodePayload(wire.Data); err != nil {
		return err
	}
	*e = out
	return nil
}

// DecodeChangePayload builds an unstamped event from a FLOW_CHANGE request's
// (type, data) pair. RoomID, UserID and Timestamp are attached by the server.
func DecodeChangePayload(t ChangeType, data json.RawMessage) (ChangeEvent, error) {
	e := ChangeEvent{Type: t}
	if !t.Valid() {
		return e, fmt.Errorf("decode change payload: unknown type %q", t)
	}
	if err := e.decodePayload(data); err != nil {
		return e, err
	}
	return e, nil
}

func (e *ChangeEvent) decodePayload(data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	switch e.Type {
	case ChangeBulkNodes:
		if err := json.Unmarshal(data, &e.Nodes); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		if e.Nodes == nil {
			e.Nodes = []Node{}
		}
	case ChangeBulkEdges:
		if err := json.Unmarshal(data, &e.Edges); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		if e.Edges == nil {
			e.Edges = []Edge{}
		}
	case ChangeGranularNodes:
		if err := json.Unmarshal(data, &e.NodeChanges); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	case ChangeGranularEdges:
		if err := json.Unmarshal(data, &e.EdgeChanges); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	case ChangeCursorMove:
		if err := json.Unmarshal(data, &e.Cursor); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	default:
		return fmt.Errorf("decode change payload: unknown type %q", e.Type)
	}
	return nil
}

// ConflictReason classifies why validation rejected a granular change.
type ConflictReason string

const (
	ReasonDoesNotExist     ConflictReason = "DOES_NOT_EXIST"
	ReasonAlreadyExists    ConflictReason = "ALREADY_EXISTS"
	ReasonDanglingEndpoint ConflictReason = "DANGLING_ENDPOINT"
	ReasonUnknown          ConflictReason = "UNKNOWN"
)

// Conflict is the author-only rejection notice for a change event.
type Conflict struct {
	Type       ChangeType     `json:"type"`
	Timestamp  int64          `json:"timestamp"`
	Reason     ConflictReason `json:"reason"`
	Suggestion string         `json:"suggestion"`
}

// SuggestionFor derives the short human hint sent with a conflict.
func SuggestionFor(t ChangeType, reason ConflictReason) string {
	switch reason {
	case ReasonDoesNotExist:
		if t == ChangeBulkEdges || t == ChangeGranularEdges {
			return "The connection you tried to modify no longer exists. Please refresh."
		}
		return "The item you tried to modify was deleted by another user. Please refresh."
	case ReasonAlreadyExists:
		return "An item with the same id was just created by another user. Please refresh and retry."
	case ReasonDanglingEndpoint:
		return "One end of the connection no longer exists. Please refresh before reconnecting."
	default:
		return "The change could not be applied. Please refresh and retry."
	}
}
