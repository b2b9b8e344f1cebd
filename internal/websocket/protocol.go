package websocket

import (
	"encoding/json"
	"strings"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/service"
)

const (
	// A rune outside the BMP JSON-escapes to a surrogate pair: \uXXXX\uXXXX
	maxEscapedRuneLen = 12
	frameOverhead     = 4 << 10
)

// MaxFrameSize bounds one inbound frame on every transport. It admits the
// longest accepted text in its largest JSON encoding plus the envelope and token.
const MaxFrameSize = service.MaxTextLength*maxEscapedRuneLen + frameOverhead

// Inbound events
const (
	EventJoinCommunity  = "joinCommunity"
	EventLeaveCommunity = "leaveCommunity"
	EventSendMessage    = "sendMessage"
	EventPing           = "ping"
)

// Outbound events
const (
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
	EventError          = "error"
	EventPong           = "pong"
)

// InboundFrame is the envelope of every client-to-server frame
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the envelope of every server-to-client frame
type OutboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SendMessagePayload is the data of a sendMessage frame
type SendMessagePayload struct {
	Token       string `json:"token"`
	Text        string `json:"text"`
	CommunityID string `json:"communityId"`
}

// MessageSentPayload confirms a persisted message to its sender
type MessageSentPayload struct {
	Success bool            `json:"success"`
	Message *domain.Message `json:"message"`
}

// ErrorPayload reports a rejected request to its sender only
type ErrorPayload struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// PongPayload answers a ping
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type roomPayload struct {
	CommunityID string `json:"communityId"`
}

// EncodeFrame marshals an outbound frame
func EncodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(OutboundFrame{Event: event, Data: data})
}

// parseRoomKey accepts either a bare JSON string or {"communityId": "..."}.
// A missing or blank key falls back to the default community.
func parseRoomKey(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.DefaultCommunityID, nil
	}

	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		var payload roomPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", err
		}
		key = payload.CommunityID
	}

	if strings.TrimSpace(key) == "" {
		return domain.DefaultCommunityID, nil
	}
	return key, nil
}
