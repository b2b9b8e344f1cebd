package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"
	"peersupport-chat/internal/service"
)

const (
	msgInvalidFormat = "Invalid message format"
	msgUnknownEvent  = "Unknown event"
)

// MessageSender runs the ingest pipeline for one send request
type MessageSender interface {
	SendMessage(ctx context.Context, req service.SendRequest) (*domain.Message, error)
}

// Limiter gates send requests per identity
type Limiter interface {
	Allow(key string) bool
}

// Dispatcher routes inbound frames of a connection to the hub and the ingest pipeline.
// It holds no per-connection state, so one instance serves every connection.
type Dispatcher struct {
	hub         *Hub
	sender      MessageSender
	limiter     Limiter
	sendTimeout time.Duration
	now         func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithLimiter enables per-identity send rate limiting
func WithLimiter(l Limiter) DispatcherOption {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithSendTimeout bounds each send. Zero leaves sends unbounded.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(hub *Hub, sender MessageSender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		hub:    hub,
		sender: sender,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one raw inbound frame. Callers invoke it sequentially per connection.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, raw []byte) {
	ctx = observability.WithConnectionID(ctx, conn.ID())
	logger := observability.FromContext(ctx)

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		logger.Warn("invalid message format", slog.String("transport", conn.Transport()))
		d.sendError(conn, msgInvalidFormat, nil)
		return
	}

	switch frame.Event {
	case EventJoinCommunity:
		room, err := parseRoomKey(frame.Data)
		if err != nil {
			d.sendError(conn, msgInvalidFormat, nil)
			return
		}
		d.hub.Join(conn, room)

	case EventLeaveCommunity:
		room, err := parseRoomKey(frame.Data)
		if err != nil {
			d.sendError(conn, msgInvalidFormat, nil)
			return
		}
		d.hub.Leave(conn, room)

	case EventSendMessage:
		d.handleSend(ctx, conn, frame.Data)

	case EventPing:
		d.send(conn, EventPong, PongPayload{Timestamp: d.now().UnixMilli()})

	default:
		logger.Debug("unknown event", slog.String("event", frame.Event))
		d.sendError(conn, msgUnknownEvent, nil)
	}
}

// Disconnect releases every membership of conn
func (d *Dispatcher) Disconnect(conn Conn) {
	d.hub.Disconnect(conn)
}

func (d *Dispatcher) handleSend(ctx context.Context, conn Conn, data json.RawMessage) {
	var payload SendMessagePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			d.sendError(conn, msgInvalidFormat, nil)
			return
		}
	}

	key := conn.UserID()
	if key == "" {
		key = conn.ID()
	}
	if d.limiter != nil && !d.limiter.Allow(key) {
		observability.IngestTotal.WithLabelValues("rate_limited").Inc()
		observability.FromContext(ctx).Warn("send rate limited", slog.String("key", key))
		d.sendError(conn, domain.MsgRateLimited, nil)
		return
	}

	// The send outlives the connection: a disconnect mid-send must not cancel the write.
	sendCtx := context.WithoutCancel(ctx)
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, d.sendTimeout)
		defer cancel()
	}

	msg, err := d.sender.SendMessage(sendCtx, service.SendRequest{
		Token:       payload.Token,
		Text:        payload.Text,
		CommunityID: payload.CommunityID,
	})
	if err != nil {
		message, details := domain.ClientError(err)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			observability.FromContext(ctx).Info("send rejected", slog.String("error", err.Error()))
		}
		d.sendError(conn, message, details)
		return
	}

	conn.BindUser(msg.SenderID)
	d.send(conn, EventMessageSent, MessageSentPayload{Success: true, Message: msg})
}

func (d *Dispatcher) sendError(conn Conn, message string, details map[string]string) {
	d.send(conn, EventError, ErrorPayload{Message: message, Details: details})
}

func (d *Dispatcher) send(conn Conn, event string, payload any) {
	data, err := EncodeFrame(event, payload)
	if err != nil {
		slog.Error("failed to marshal frame",
			slog.String("error", err.Error()),
			slog.String("event", event))
		return
	}
	if conn.Send(data) {
		observability.EventsDelivered.WithLabelValues(event).Inc()
		return
	}
	observability.EventsDropped.WithLabelValues(event).Inc()
}
