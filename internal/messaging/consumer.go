package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"peersupport-chat/internal/observability"
)

// LocalHub multicasts a frame to the connections of this instance
type LocalHub interface {
	Broadcast(communityID string, data []byte)
}

// BroadcastConsumer feeds frames published by any instance into the local hub
type BroadcastConsumer struct {
	rmq *RabbitMQ
	hub LocalHub
}

func NewBroadcastConsumer(rmq *RabbitMQ, hub LocalHub) *BroadcastConsumer {
	return &BroadcastConsumer{
		rmq: rmq,
		hub: hub,
	}
}

// Start binds an exclusive queue to the broadcast exchange and consumes it until ctx is done
func (c *BroadcastConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,        // queue name
		"",                // routing key
		BroadcastExchange, // exchange
		false,
		nil,
	); err != nil {
		return err
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	slog.Info("started consuming broadcasts",
		slog.String("queue", queue.Name),
		slog.String("exchange", BroadcastExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping broadcast consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("broadcast consumer channel closed")
					return
				}
				if err := c.handle(msg.Body); err != nil {
					slog.Error("error handling broadcast",
						slog.String("error", err.Error()),
						slog.Int("body_size", len(msg.Body)))
				}
			}
		}
	}()

	return nil
}

func (c *BroadcastConsumer) handle(body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		observability.BackplanePublished.WithLabelValues("in", "error").Inc()
		return err
	}
	if env.CommunityID == "" || len(env.Frame) == 0 {
		observability.BackplanePublished.WithLabelValues("in", "error").Inc()
		return errors.New("envelope missing community or frame")
	}

	observability.BackplanePublished.WithLabelValues("in", "ok").Inc()
	c.hub.Broadcast(env.CommunityID, env.Frame)
	return nil
}
