//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"peersupport-chat/internal/chatclient"
	"peersupport-chat/internal/domain"

	"github.com/stretchr/testify/require"
)

var nameCounter atomic.Int64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, nameCounter.Add(1))
}

// member is a directory user with a valid bearer token
type member struct {
	user  *domain.User
	token string
}

func newMember(t *testing.T, prefix string) member {
	t.Helper()
	user := &domain.User{Name: uniqueName(prefix)}
	require.NoError(t, users.Create(context.Background(), user))
	token, err := tokens.Issue(user.ID)
	require.NoError(t, err)
	return member{user: user, token: token}
}

func (m member) connect(t *testing.T, inst *instance) *chatclient.Client {
	t.Helper()
	c, err := chatclient.Dial(context.Background(), inst.wsURL, m.token, m.user.Name)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// joinRoom joins and waits until the server has processed the join
func joinRoom(t *testing.T, c *chatclient.Client, room string) {
	t.Helper()
	require.NoError(t, c.Join(room))
	require.NoError(t, c.Ping())
	waitFor(t, c, "pong", nil)
}

// waitFor returns the first update with the given event matching pred
func waitFor(t *testing.T, c *chatclient.Client, event string, pred func(chatclient.Update) bool) chatclient.Update {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-c.Updates():
			require.True(t, ok, "connection closed while waiting for %s", event)
			if u.Event == event && (pred == nil || pred(u)) {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// expectNone fails if an update with the given event arrives within d
func expectNone(t *testing.T, c *chatclient.Client, event string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case u, ok := <-c.Updates():
			if !ok {
				return
			}
			if u.Event == event {
				t.Fatalf("unexpected %s: %+v", event, u)
			}
		case <-timeout:
			return
		}
	}
}

type historyPage struct {
	Messages []domain.HistoryMessage `json:"messages"`
	HasMore  bool                    `json:"hasMore"`
}

func getHistory(t *testing.T, inst *instance, token, room string) (int, historyPage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, inst.baseURL+"/api/v1/communities/"+room+"/messages", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var page historyPage
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	}
	return resp.StatusCode, page
}

// pollClient drives the long-polling transport
type pollClient struct {
	t   *testing.T
	url string
}

func openPoll(t *testing.T, inst *instance) *pollClient {
	t.Helper()
	resp, err := http.Post(inst.baseURL+"/poll", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	p := &pollClient{t: t, url: inst.baseURL + "/poll/" + body.SID}
	t.Cleanup(func() {
		req, _ := http.NewRequest(http.MethodDelete, p.url, nil)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	})
	return p
}

func (p *pollClient) submit(frames ...string) {
	p.t.Helper()
	raw := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		raw[i] = json.RawMessage(f)
	}
	body, err := json.Marshal(map[string]any{"frames": raw})
	require.NoError(p.t, err)

	resp, err := http.Post(p.url, "application/json", bytes.NewReader(body))
	require.NoError(p.t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(p.t, http.StatusNoContent, resp.StatusCode, string(data))
}

type polledFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// until polls until a frame with the given event arrives
func (p *pollClient) until(event string) polledFrame {
	p.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(p.url)
		require.NoError(p.t, err)
		var batch struct {
			Frames []polledFrame `json:"frames"`
		}
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		require.NoError(p.t, err)

		for _, f := range batch.Frames {
			if f.Event == event {
				return f
			}
		}
	}
	p.t.Fatalf("timed out polling for %s", event)
	return polledFrame{}
}
