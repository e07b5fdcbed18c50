package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// XY is a 2D coordinate on the flow canvas.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dimensions is a measured node size reported by the client renderer.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport is a single client's pan/zoom state. It is persisted opaquely
// with the flow blob but never synchronized between clients.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Node is one vertex of the flow graph. Data carries renderer-owned
// attributes (label, description, backgroundColor, textColor, ...) that the
// engine passes through untouched.
type Node struct {
	ID               string         `json:"id"`
	Type             string         `json:"type,omitempty"`
	Position         XY             `json:"position"`
	PositionAbsolute *XY            `json:"positionAbsolute,omitempty"`
	Width            float64        `json:"width,omitempty"`
	Height           float64        `json:"height,omitempty"`
	Selected         bool           `json:"selected,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// Edge connects two nodes by id. Source and Target are id references, never
// pointers; they are validated against the node set on every mutation.
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Type         string         `json:"type,omitempty"`
	Label        string         `json:"label,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Selected     bool           `json:"selected,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// FlowData is the shared document: ordered nodes and ordered edges.
type FlowData struct {
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// EmptyFlowData returns a document with non-nil empty sequences, the shape
// clients expect in ROOM_JOINED even for a brand-new room.
func EmptyFlowData() FlowData {
	return FlowData{Nodes: []Node{}, Edges: []Edge{}}
}

// Normalize defaults nil sequences to empty ones. Stored blobs may be null
// or missing either field; the engine always works with materialized slices.
func (f *FlowData) Normalize() {
	if f.Nodes == nil {
		f.Nodes = []Node{}
	}
	if f.Edges == nil {
		f.Edges = []Edge{}
	}
}

// Clone returns a deep-enough copy for single-writer mutation: the node and
// edge slices are copied, and Data maps are shared because granular changes
// replace whole records rather than mutating map entries in place.
func (f FlowData) Clone() FlowData {
	out := FlowData{
		Nodes:    make([]Node, len(f.Nodes)),
		Edges:    make([]Edge, len(f.Edges)),
		Viewport: f.Viewport,
	}
	copy(out.Nodes, f.Nodes)
	copy(out.Edges, f.Edges)
	return out
}

// Digest returns a blake2b-256 digest of the canonical JSON encoding.
// The sync pipeline uses it to elide durable writes when a batch nets out
// to an identical document.
func (f FlowData) Digest() [32]byte {
	raw, err := json.Marshal(f)
	if err != nil {
		// Marshal of these types cannot fail; an empty digest would still
		// only cost a redundant write.
		return [32]byte{}
	}
	return blake2b.Sum256(raw)
}

// Role is a participant's capability level within a room.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// CanEdit reports whether the role may submit flow mutations.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Principal is the authenticated identity consumed by the engine. Session
// issuance happens outside; the engine only ever sees validated principals.
type Principal struct {
	UserID uuid.UUID `json:"userId"`
	Name   string    `json:"name"`
}

// Participant is an authenticated client currently joined to a room.
// Participants live in controller memory and the warm cache only; they are
// never written to the durable store.
type Participant struct {
	UserID       uuid.UUID `json:"userId"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Cursor       *XY       `json:"cursor,omitempty"`
}

// RoomData is the warm-cache value for a room: the latest materialized
// document plus the metadata joins need for role resolution.
type RoomData struct {
	RoomID       uuid.UUID `json:"roomId"`
	OwnerID      uuid.UUID `json:"ownerId"`
	IsPublic     bool      `json:"isPublic"`
	FlowData     FlowData  `json:"flowData"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}
