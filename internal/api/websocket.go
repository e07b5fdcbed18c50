package api

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/gorilla/websocket"

	"github.com/hai2k2yt/flowsync/internal/rooms"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the fronting proxy.
		return true
	},
}

// WebSocketHandler upgrades the connection and runs the session until the
// client disconnects. Sessions start unauthenticated; the JOIN_ROOM message
// carries the token.
func (r *Router) WebSocketHandler(w http.ResponseWriter, req *http.Request) {
	ctx, span := otel.Tracer("websocket-server").Start(req.Context(), "WebSocketConnection")
	defer span.End()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("upgrade failed: %v", err))
		return
	}
	span.SetStatus(codes.Ok, "WebSocket connection established")

	session := rooms.NewSession(ctx, conn, r.manager, r.oracle, rooms.SessionConfig{
		JoinTimeout:  r.cfg.JoinTimeout,
		PingInterval: r.cfg.PingInterval,
		PingTimeout:  r.cfg.PingTimeout,
	}, r.log)
	session.Serve()
}
