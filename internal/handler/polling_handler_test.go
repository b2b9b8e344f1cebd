package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peersupport-chat/internal/service"
	"peersupport-chat/internal/testutil"
	ws "peersupport-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollFixture struct {
	router   http.Handler
	messages *testutil.MockMessageRepository
}

func newPollFixture(t *testing.T) *pollFixture {
	t.Helper()
	dispatcher, messages := newTestDispatcher(t)
	wait := 100 * time.Millisecond
	h := NewPollingHandler(ws.NewPollManager(dispatcher, wait, time.Minute), wait)

	r := chi.NewRouter()
	r.Post("/poll", h.Open)
	r.Get("/poll/{sid}", h.Poll)
	r.Post("/poll/{sid}", h.Submit)
	r.Delete("/poll/{sid}", h.Close)
	return &pollFixture{router: r, messages: messages}
}

func (f *pollFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *pollFixture) open(t *testing.T) string {
	t.Helper()
	w := f.do(http.MethodPost, "/poll", "")
	require.Equal(t, http.StatusCreated, w.Code)
	resp := testutil.DecodeJSON[struct {
		SID        string `json:"sid"`
		PollWaitMs int64  `json:"pollWaitMs"`
	}](t, w)
	require.NotEmpty(t, resp.SID)
	assert.Equal(t, int64(100), resp.PollWaitMs)
	return resp.SID
}

type polledFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// collectFrames polls until want frames have arrived or the deadline passes
func (f *pollFixture) collectFrames(t *testing.T, sid string, want int) []polledFrame {
	t.Helper()
	var frames []polledFrame
	deadline := time.Now().Add(2 * time.Second)
	for len(frames) < want && time.Now().Before(deadline) {
		w := f.do(http.MethodGet, "/poll/"+sid, "")
		require.Equal(t, http.StatusOK, w.Code)
		batch := testutil.DecodeJSON[struct {
			Frames []polledFrame `json:"frames"`
		}](t, w)
		frames = append(frames, batch.Frames...)
	}
	return frames
}

func (f *pollFixture) collect(t *testing.T, sid string, want int) []string {
	t.Helper()
	var events []string
	for _, fr := range f.collectFrames(t, sid, want) {
		events = append(events, fr.Event)
	}
	return events
}

func TestPollingHandler_SubmitAndPoll(t *testing.T) {
	f := newPollFixture(t)
	sid := f.open(t)

	w := f.do(http.MethodPost, "/poll/"+sid, `{"frames":[
		{"event":"joinCommunity","data":"global"},
		{"event":"sendMessage","data":{"token":"`+testToken+`","text":"hello","communityId":"global"}}
	]}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	events := f.collect(t, sid, 2)
	assert.ElementsMatch(t, []string{ws.EventMessageSent, ws.EventReceiveMessage}, events)
	assert.Equal(t, 1, f.messages.Count())
}

func TestPollingHandler_LongestTextInEscapedForm(t *testing.T) {
	// Every rune escaped as a surrogate pair is the largest encoding a client can send
	escaped := func(runes int) string { return strings.Repeat(`\ud83d\ude00`, runes) }

	tests := []struct {
		name      string
		runes     int
		wantEvent string
		wantError string
	}{
		{name: "at the limit", runes: service.MaxTextLength, wantEvent: ws.EventMessageSent},
		{name: "one over the limit", runes: service.MaxTextLength + 1, wantEvent: ws.EventError, wantError: "Message text is too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPollFixture(t)
			sid := f.open(t)

			body := `{"frames":[{"event":"sendMessage","data":{"token":"` + testToken +
				`","text":"` + escaped(tt.runes) + `","communityId":"global"}}]}`
			require.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/poll/"+sid, body).Code)

			frames := f.collectFrames(t, sid, 1)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantEvent, frames[0].Event)
			if tt.wantError != "" {
				var payload ws.ErrorPayload
				require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
				assert.Equal(t, tt.wantError, payload.Message)
			}
		})
	}
}

func TestPollingHandler_PollTimesOutEmpty(t *testing.T) {
	f := newPollFixture(t)
	sid := f.open(t)

	w := f.do(http.MethodGet, "/poll/"+sid, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"frames":[]}`, w.Body.String())
}

func TestPollingHandler_PingPong(t *testing.T) {
	f := newPollFixture(t)
	sid := f.open(t)

	require.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/poll/"+sid, `{"frames":[{"event":"ping"}]}`).Code)

	assert.Equal(t, []string{ws.EventPong}, f.collect(t, sid, 1))
}

func TestPollingHandler_SubmitRejectsBadBodies(t *testing.T) {
	tooMany := `{"frames":[` + strings.TrimSuffix(strings.Repeat(`{"event":"ping"},`, maxPollFrames+1), ",") + `]}`
	tooLarge := `{"frames":[{"event":"ping","data":"` + strings.Repeat("x", ws.MaxFrameSize) + `"}]}`

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "not json", body: `nope`, wantErr: "Invalid message format"},
		{name: "too many frames", body: tooMany, wantErr: "Too many frames"},
		{name: "frame too large", body: tooLarge, wantErr: "Frame too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPollFixture(t)
			sid := f.open(t)

			w := f.do(http.MethodPost, "/poll/"+sid, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.wantErr+`"}`, w.Body.String())
		})
	}
}

func TestPollingHandler_UnknownSession(t *testing.T) {
	f := newPollFixture(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := f.do(method, "/poll/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code, method)
		assert.JSONEq(t, `{"error":"Session not found"}`, w.Body.String())
	}
	w := f.do(http.MethodPost, "/poll/missing", `{"frames":[]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPollingHandler_Close(t *testing.T) {
	f := newPollFixture(t)
	sid := f.open(t)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/poll/"+sid, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/poll/"+sid, "").Code)
}
