package handler

import (
	"context"
	"log/slog"
	"net/http"

	"peersupport-chat/internal/middleware"
	"peersupport-chat/internal/observability"
	ws "peersupport-chat/internal/websocket"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades connections to the websocket transport.
// Identity is not checked here; every send carries its own token.
type WebSocketHandler struct {
	dispatcher *ws.Dispatcher
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(dispatcher *ws.Dispatcher, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
	}
}

// HandleConnection upgrades the request and serves the socket until it closes
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		observability.FromContext(r.Context()).Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	client := ws.NewClient(conn, h.dispatcher)
	client.Run(context.WithoutCancel(r.Context()))
}
