// Package chatclient is a websocket client for the community chat gateway.
// Sends show up in the local timeline immediately and are reconciled when
// the server confirms or rejects them.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/reconcile"
	ws "peersupport-chat/internal/websocket"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 5 * time.Second
	updateBuffer     = 64
)

// ErrClosed is returned by operations on a closed client
var ErrClosed = errors.New("chat client closed")

// Update reports one server event after it has been applied to the timeline
type Update struct {
	Event string
	Room  string
	// Entry is set for message events
	Entry *reconcile.Entry
	// Applied is false when the message was a duplicate
	Applied bool
	// TempID names the optimistic entry an error or confirmation settled
	TempID    string
	Error     *ws.ErrorPayload
	Timestamp int64
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Client struct {
	conn     *websocket.Conn
	token    string
	userID   string
	name     string
	timeline *reconcile.Timeline

	writeMu sync.Mutex
	// temp ids of sends awaiting messageSent or error, in send order
	inflight []string
	mu       sync.Mutex

	updates   chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway at url. The token is sent with every message;
// its subject identifies the local user for reconciliation.
func Dial(ctx context.Context, url, token, name string) (*Client, error) {
	userID, err := Subject(token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		token:    token,
		userID:   userID,
		name:     name,
		timeline: reconcile.NewTimeline(),
		updates:  make(chan Update, updateBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subject extracts the user id from a bearer token without verifying it.
// The server verifies every send.
func Subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) Timeline() *reconcile.Timeline { return c.timeline }

// Updates is closed when the connection ends
func (c *Client) Updates() <-chan Update { return c.updates }

func (c *Client) Join(room string) error {
	return c.write(frame{Event: ws.EventJoinCommunity, Data: room})
}

func (c *Client) Leave(room string) error {
	return c.write(frame{Event: ws.EventLeaveCommunity, Data: room})
}

func (c *Client) Ping() error {
	return c.write(frame{Event: ws.EventPing})
}

// Send adds an optimistic entry and submits the message
func (c *Client) Send(text, room string) (reconcile.Entry, error) {
	entry := c.timeline.AddOptimistic(room, c.userID, c.name, strings.TrimSpace(text))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Registered before the write so the reply can never beat it
	c.mu.Lock()
	c.inflight = append(c.inflight, entry.ID)
	c.mu.Unlock()

	err := c.writeLocked(frame{
		Event: ws.EventSendMessage,
		Data:  ws.SendMessagePayload{Token: c.token, Text: text, CommunityID: room},
	})
	if err != nil {
		c.dropInflight(entry.ID)
		c.timeline.Fail(entry.ID, err.Error())
		return entry, err
	}
	return entry, nil
}

// Close sends a close frame and closes the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(f)
}

func (c *Client) writeLocked(f frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	defer close(c.updates)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("chat connection lost", slog.String("error", err.Error()))
			}
			c.failInflight("connection closed")
			return
		}

		var f serverFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("dropping malformed server frame", slog.String("error", err.Error()))
			continue
		}

		u, ok := c.apply(f)
		if !ok {
			continue
		}
		select {
		case c.updates <- u:
		case <-c.done:
			return
		}
	}
}

func (c *Client) apply(f serverFrame) (Update, bool) {
	u := Update{Event: f.Event}

	switch f.Event {
	case ws.EventReceiveMessage:
		var msg domain.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			return u, false
		}
		u.Applied = c.timeline.Apply(msg)
		u.Room = msg.CommunityID
		u.Entry = &reconcile.Entry{Message: msg}

	case ws.EventMessageSent:
		var payload ws.MessageSentPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil || payload.Message == nil {
			return u, false
		}
		u.TempID = c.popInflight()
		if u.TempID != "" {
			u.Applied = c.timeline.Confirm(u.TempID, *payload.Message)
		} else {
			u.Applied = c.timeline.Apply(*payload.Message)
		}
		u.Room = payload.Message.CommunityID
		u.Entry = &reconcile.Entry{Message: *payload.Message}

	case ws.EventError:
		var payload ws.ErrorPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return u, false
		}
		u.Error = &payload
		// The server answers one connection's frames in order, and of the frames
		// this client writes only sendMessage can draw an error: Join and Leave
		// always carry a valid room key and Ping never fails. So an error always
		// belongs to the oldest send in flight. A new frame kind that can fail
		// must get its own in-flight entry here.
		if tempID := c.popInflight(); tempID != "" {
			u.TempID = tempID
			c.timeline.Fail(tempID, payload.Message)
		}

	case ws.EventPong:
		var payload ws.PongPayload
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			return u, false
		}
		u.Timestamp = payload.Timestamp

	default:
		return u, false
	}
	return u, true
}

func (c *Client) popInflight() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inflight) == 0 {
		return ""
	}
	id := c.inflight[0]
	c.inflight = c.inflight[1:]
	return id
}

func (c *Client) dropInflight(tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.inflight {
		if id == tempID {
			c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
			return
		}
	}
}

func (c *Client) failInflight(reason string) {
	c.mu.Lock()
	pending := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	for _, id := range pending {
		c.timeline.Fail(id, reason)
	}
}
