package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"peersupport-chat/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	sendBufferSize = 256
)

// Client is a websocket connection
type Client struct {
	identity
	conn       *websocket.Conn
	send       chan []byte
	dispatcher *Dispatcher
	done       chan struct{}
	closeOnce  sync.Once
}

func NewClient(conn *websocket.Conn, dispatcher *Dispatcher) *Client {
	return &Client{
		identity:   identity{id: uuid.NewString()},
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}
}

func (c *Client) Transport() string { return TransportWebSocket }

// Send queues a frame without blocking
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close signals the write pump to close the socket. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run serves the connection until the peer goes away or Close is called
func (c *Client) Run(ctx context.Context) {
	observability.ConnectionsActive.WithLabelValues(TransportWebSocket).Inc()
	defer observability.ConnectionsActive.WithLabelValues(TransportWebSocket).Dec()

	go c.WritePump()
	c.ReadPump(ctx)
}

// ReadPump reads frames and hands them to the dispatcher one at a time
func (c *Client) ReadPump(ctx context.Context) {
	ctx = observability.WithConnectionID(ctx, c.ID())
	logger := observability.FromContext(ctx)

	defer func() {
		c.dispatcher.Disconnect(c)
		c.Close()
		c.conn.Close()
		logger.Info("websocket disconnected")
	}()

	c.conn.SetReadLimit(MaxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warn("failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	logger.Info("websocket connected")

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket error", slog.String("error", err.Error()))
			}
			return
		}
		c.dispatcher.Dispatch(ctx, c, message)
	}
}

// WritePump pumps queued frames to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
