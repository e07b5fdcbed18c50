package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hai2k2yt/flowsync/internal/models"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Bulk snapshots of large flows
	// are the biggest legitimate payload.
	maxMessageSize = 1 << 20

	// Outbound queue depth per session. A full queue marks the session as a
	// slow consumer and the controller drops it.
	sendQueueSize = 256
)

var (
	errSessionClosed = errors.New("session closed")
	errSendQueueFull = errors.New("session send queue full")
)

// SessionConfig carries the connection-level knobs a session needs.
type SessionConfig struct {
	JoinTimeout  time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Session is one websocket connection. It implements Transport for the room
// controller: reads stay on the session goroutine, writes go through the send
// queue so a controller fan-out never blocks on a slow socket. A session
// starts unauthenticated and joins at most one room at a time.
type Session struct {
	id      string
	ctx     context.Context
	conn    *websocket.Conn
	manager *Manager
	oracle  AccessOracle
	cfg     SessionConfig
	log     *utils.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the read goroutine.
	principal models.Principal
	role      models.Role
	joined    bool
	room      *Controller
}

// NewSession wraps an upgraded websocket connection. ctx should be the
// upgrade request's context so log correlation survives the hijack.
func NewSession(ctx context.Context, conn *websocket.Conn, manager *Manager, oracle AccessOracle, cfg SessionConfig, log *utils.Logger) *Session {
	return &Session{
		id:      uuid.NewString(),
		ctx:     ctx,
		conn:    conn,
		manager: manager,
		oracle:  oracle,
		cfg:     cfg,
		log:     log,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
}

// Send queues a server message for delivery. It never blocks: a closed
// session or a full queue returns an error and the caller gives up on us.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendQueueFull
	}
}

// Close shuts the session down. Safe to call from any goroutine, repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Serve runs the session until the connection drops. The caller's handler
// goroutine becomes the read pump.
func (s *Session) Serve() {
	go s.writePump()
	s.readPump()
}

func (s *Session) readPump() {
	defer func() {
		if s.joined {
			s.room.Leave(s.principal.UserID, s)
		}
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug(s.ctx, "session %s: read error: %v", s.id, err)
			}
			return
		}
		var msg models.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("invalid message", err.Error())
			continue
		}
		switch msg.Type {
		case models.ClientJoinRoom:
			s.handleJoinRoom(msg)
		case models.ClientFlowChange:
			s.handleFlowChange(msg)
		case models.ClientCursorMove:
			s.handleCursorMove(msg)
		default:
			s.sendError("unknown message type", string(msg.Type))
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
		s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleJoinRoom authenticates the token, resolves the caller's role and
// admits the session to the room. Joining a second room implicitly leaves
// the first.
func (s *Session) handleJoinRoom(msg models.ClientMessage) {
	roomID, err := uuid.Parse(msg.RoomID)
	if err != nil {
		s.sendError("invalid room id", msg.RoomID)
		return
	}

	principal, err := s.oracle.Authenticate(msg.Token)
	if err != nil {
		s.log.Debug(s.ctx, "session %s: authentication failed: %v", s.id, err)
		s.sendError("authentication failed", "")
		return
	}

	// One deadline covers the whole admission: role lookup plus room load.
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JoinTimeout)
	defer cancel()

	role, err := s.oracle.RoleIn(ctx, roomID, principal.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			s.sendError("room not found", roomID.String())
		case errors.Is(err, ErrAccessDenied):
			s.sendError("access denied", "")
		case errors.Is(err, context.DeadlineExceeded):
			s.sendError("join timed out", roomID.String())
		default:
			s.log.Error(s.ctx, "session %s: role lookup failed: %v", s.id, err)
			s.sendError("join failed", "")
		}
		return
	}

	if s.joined {
		s.room.Leave(s.principal.UserID, s)
		s.joined = false
		s.room = nil
	}

	_, ctrl, err := s.manager.Join(ctx, roomID, principal, role, s)
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			s.sendError("room not found", roomID.String())
		case errors.Is(err, ErrJoinTimeout):
			s.sendError("join timed out", roomID.String())
		case errors.Is(err, ErrShuttingDown):
			s.sendError("server shutting down", "")
		default:
			s.log.Error(s.ctx, "session %s: join failed: %v", s.id, err)
			s.sendError("join failed", "")
		}
		return
	}

	// ROOM_JOINED is already on the send queue; the controller wrote it
	// before answering.
	s.principal = principal
	s.role = role
	s.room = ctrl
	s.joined = true
}

func (s *Session) handleFlowChange(msg models.ClientMessage) {
	if !s.joined {
		s.sendError("not in a room", "")
		return
	}
	if !s.role.CanEdit() {
		s.sendError("viewer role cannot edit", "")
		return
	}
	if msg.Change == nil {
		s.sendError("missing change payload", "")
		return
	}
	ev, err := models.DecodeChangePayload(msg.Change.Type, msg.Change.Data)
	if err != nil {
		s.sendError("invalid change payload", err.Error())
		return
	}
	if err := s.room.Ingest(s.principal.UserID, ev); err != nil {
		s.sendError("room closed", "")
		s.Close()
	}
}

func (s *Session) handleCursorMove(msg models.ClientMessage) {
	if !s.joined {
		s.sendError("not in a room", "")
		return
	}
	pos := models.XY{X: msg.X, Y: msg.Y}
	if err := s.room.Cursor(s.principal.UserID, pos); err != nil {
		s.sendError("room closed", "")
		s.Close()
	}
}

func (s *Session) sendError(message, details string) {
	_ = s.Send(models.NewError(message, details))
}
