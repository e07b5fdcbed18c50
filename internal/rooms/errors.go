package rooms

import "errors"

var (
	// ErrAuthFailed means the join token did not validate.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAccessDenied means the user holds no role in the room.
	ErrAccessDenied = errors.New("access denied")

	// ErrRoomNotFound means the room does not exist in the durable store.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNoParticipant means no explicit participant grant exists; the caller
	// decides whether public access applies.
	ErrNoParticipant = errors.New("no participant grant")

	// ErrControllerClosed is returned for requests that raced a controller's
	// finalization. Callers retry against a fresh controller.
	ErrControllerClosed = errors.New("room controller closed")

	// ErrJoinTimeout means the room did not answer a join before the deadline.
	ErrJoinTimeout = errors.New("join timed out")

	// ErrShuttingDown is returned for joins that arrive after the registry
	// has begun draining rooms for process shutdown.
	ErrShuttingDown = errors.New("engine shutting down")
)
