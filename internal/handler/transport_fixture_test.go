package handler

import (
	"context"
	"testing"

	"peersupport-chat/internal/service"
	"peersupport-chat/internal/testutil"
	ws "peersupport-chat/internal/websocket"
)

const testToken = "token-alice"

// newTestDispatcher wires a running hub to a chat service backed by mocks
func newTestDispatcher(t *testing.T) (*ws.Dispatcher, *testutil.MockMessageRepository) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)

	alice := testutil.NewTestUser(testutil.WithUserID("user-alice"), testutil.WithUserName("alice"))
	messages := testutil.NewMockMessageRepository()
	chat := service.NewChatService(
		messages,
		testutil.NewMockUserDirectory(alice),
		testutil.NewMockTokenVerifier(map[string]string{testToken: "user-alice"}),
		ws.NewRoomBroadcaster(hub),
	)
	return ws.NewDispatcher(hub, chat), messages
}
