package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"peersupport-chat/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BroadcastExchange is the fanout exchange every server instance binds to
const BroadcastExchange = "community.broadcast"

// RabbitMQ is the cross-instance broadcast backplane
type RabbitMQ struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publishMu sync.Mutex
}

// Envelope carries one encoded frame and the room it is addressed to
type Envelope struct {
	CommunityID string          `json:"communityId"`
	Frame       json.RawMessage `json:"frame"`
	Timestamp   int64           `json:"timestamp"`
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry dials with exponential backoff until ctx is done
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on RabbitMQ after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		BroadcastExchange, // name
		"fanout",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("failed to declare broadcast exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// Publish sends an encoded frame to every instance. It implements websocket.Fanout.
func (r *RabbitMQ) Publish(ctx context.Context, communityID string, data []byte) error {
	body, err := json.Marshal(Envelope{
		CommunityID: communityID,
		Frame:       data,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	r.publishMu.Lock()
	err = r.channel.PublishWithContext(
		ctx,
		BroadcastExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	)
	r.publishMu.Unlock()

	if err != nil {
		observability.BackplanePublished.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}

	observability.BackplanePublished.WithLabelValues("out", "ok").Inc()
	slog.Debug("published broadcast", slog.String("community_id", communityID))
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
