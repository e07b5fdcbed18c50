package contextkey

// Key is the private type for context values set by the middleware chain.
type Key string

const (
	// ContextKeyRequestID carries the per-request uuid assigned by the
	// request-id middleware.
	ContextKeyRequestID Key = "request_id"

	// ContextKeyUserID carries the authenticated user's uuid, when known.
	ContextKeyUserID Key = "user_id"

	// ContextKeyRoomID carries the room a log line belongs to. Room
	// controllers stamp their base context with it.
	ContextKeyRoomID Key = "room_id"
)
