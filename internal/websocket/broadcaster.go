package websocket

import (
	"context"
	"fmt"

	"peersupport-chat/internal/domain"
)

// RoomBroadcaster encodes persisted messages as receiveMessage frames and
// publishes them through a Fanout
type RoomBroadcaster struct {
	fanout Fanout
}

func NewRoomBroadcaster(fanout Fanout) *RoomBroadcaster {
	return &RoomBroadcaster{fanout: fanout}
}

// BroadcastMessage multicasts msg to every member of its community
func (b *RoomBroadcaster) BroadcastMessage(ctx context.Context, msg *domain.Message) error {
	data, err := EncodeFrame(EventReceiveMessage, msg)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	if err := b.fanout.Publish(ctx, msg.CommunityID, data); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	return nil
}
