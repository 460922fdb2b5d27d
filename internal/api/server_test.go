package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/debugbridge/internal/auth"
	"github.com/mattjoyce/debugbridge/internal/client"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/orchestrator"
	"github.com/mattjoyce/debugbridge/internal/protocol"
	"github.com/mattjoyce/debugbridge/internal/state"
)

const (
	adminKey    = "admin-key"
	readerToken = "reader-token"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

// fakeSession recognizes every command except "bogus".
type fakeSession struct {
	cmds   chan *protocol.Command
	status orchestrator.Status
	err    error
}

func newFakeSession() *fakeSession {
	return &fakeSession{cmds: make(chan *protocol.Command, 16)}
}

func (f *fakeSession) Handle(_ context.Context, cmd *protocol.Command) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.cmds <- cmd
	return cmd.Name() != "bogus", nil
}

func (f *fakeSession) Status(context.Context) (orchestrator.Status, error) {
	return f.status, f.err
}

type fakeRunLog struct {
	runs      []state.RunRecord
	lastLimit int
}

func (f *fakeRunLog) List(_ context.Context, limit int) ([]state.RunRecord, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeRunLog) Get(_ context.Context, id string) (*state.RunRecord, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, state.ErrNotFound
}

type harness struct {
	session *fakeSession
	runs    *fakeRunLog
	hub     *events.Hub
	slot    *client.Slot
	server  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		session: newFakeSession(),
		runs:    &fakeRunLog{},
		hub:     events.NewHub(16),
		slot:    client.NewSlot(),
	}
	srv := New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{{Token: readerToken, Scopes: []string{auth.ScopeSessionRead}}},
	}, h.session, h.runs, h.hub, h.slot, log.WithComponent("api"))

	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, h.slot.Attached, time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	h.session.status = orchestrator.Status{ProcessRunning: true, DebugClient: true}

	resp := h.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[HealthzResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.ProcessRunning)
	assert.True(t, body.DebugClient)
	assert.False(t, body.ClientAttached)
}

func TestHealthzSessionStopped(t *testing.T) {
	h := newHarness(t)
	h.session.err = orchestrator.ErrStopped

	resp := h.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuthAndScopes(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", http.MethodGet, "/status", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/status", "nope", "", http.StatusUnauthorized},
		{"reader status", http.MethodGet, "/status", readerToken, "", http.StatusOK},
		{"reader runs", http.MethodGet, "/runs", readerToken, "", http.StatusOK},
		{"reader cannot command", http.MethodPost, "/command", readerToken, `{"command":"kill"}`, http.StatusForbidden},
		{"reader cannot attach", http.MethodGet, "/ws", readerToken, "", http.StatusForbidden},
		{"admin command", http.MethodPost, "/command", adminKey, `{"command":"kill"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestCommandEndpoint(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/command", adminKey, `{"command":"Run","file":"app.js"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, CommandResponse{Command: "run", Handled: true}, decode[CommandResponse](t, resp))

	cmd := <-h.session.cmds
	assert.Equal(t, "app.js", cmd.File)

	resp = h.do(t, http.MethodPost, "/command", adminKey, `{"command":"bogus"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, decode[CommandResponse](t, resp).Handled)

	resp = h.do(t, http.MethodPost, "/command", adminKey, `{"file":"app.js"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandEndpointSessionStopped(t *testing.T) {
	h := newHarness(t)
	h.session.err = orchestrator.ErrStopped

	resp := h.do(t, http.MethodPost, "/command", adminKey, `{"command":"kill"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusIncludesClient(t *testing.T) {
	h := newHarness(t)
	h.session.status = orchestrator.Status{NodeDebugPort: 5859, ChromePort: 9222}

	resp := h.do(t, http.MethodGet, "/status", readerToken, "")
	body := decode[StatusResponse](t, resp)
	assert.False(t, body.ClientAttached)
	assert.Equal(t, 5859, body.NodeDebugPort)

	h.dialWS(t, adminKey)
	resp = h.do(t, http.MethodGet, "/status", readerToken, "")
	body = decode[StatusResponse](t, resp)
	assert.True(t, body.ClientAttached)
	assert.NotEmpty(t, body.ClientID)
}

func TestRunsEndpoints(t *testing.T) {
	h := newHarness(t)
	h.runs.runs = []state.RunRecord{{ID: "r2", Command: "run", File: "b.js"}, {ID: "r1", Command: "rundebug", File: "a.js"}}

	resp := h.do(t, http.MethodGet, "/runs?limit=5", readerToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]state.RunRecord](t, resp)
	assert.Len(t, body["runs"], 2)
	assert.Equal(t, 5, h.runs.lastLimit)

	resp = h.do(t, http.MethodGet, "/runs?limit=zero", readerToken, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/runs/r1", readerToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a.js", decode[state.RunRecord](t, resp).File)

	resp = h.do(t, http.MethodGet, "/runs/missing", readerToken, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSDeliversCommandsAndEnvelopes(t *testing.T) {
	h := newHarness(t)
	conn := h.dialWS(t, adminKey)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"rundebug","file":"app.js"}`)))
	select {
	case cmd := <-h.session.cmds:
		assert.Equal(t, "rundebug", cmd.Name())
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the session")
	}

	require.True(t, h.slot.Send(protocol.NodeStart()))
	assert.Equal(t, protocol.NodeStart(), readEnvelope(t, conn))
}

func TestWSAnswersBadMessages(t *testing.T) {
	h := newHarness(t)
	conn := h.dialWS(t, adminKey)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Contains(t, env.Message, "Invalid command")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"Bogus"}`)))
	env = readEnvelope(t, conn)
	assert.Equal(t, protocol.Error("Command not handled: Bogus", 0, "bogus"), env)
}

func TestWSNewConnectionReplacesOld(t *testing.T) {
	h := newHarness(t)
	first := h.dialWS(t, adminKey)
	firstID := h.slot.Current().ID()

	second := h.dialWS(t, adminKey)
	require.Eventually(t, func() bool {
		c := h.slot.Current()
		return c != nil && c.ID() != firstID
	}, time.Second, 5*time.Millisecond)

	// The replaced connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)

	require.True(t, h.slot.Send(protocol.NodeExit()))
	assert.Equal(t, protocol.NodeExit(), readEnvelope(t, second))

	types := make([]string, 0)
	for _, ev := range h.hub.SnapshotSince(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.ClientAttached, events.ClientDetached, events.ClientAttached}, types)
}

func TestWSDisconnectEmptiesSlot(t *testing.T) {
	h := newHarness(t)
	conn := h.dialWS(t, adminKey)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !h.slot.Attached() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		evs := h.hub.SnapshotSince(0)
		return len(evs) == 2 && evs[1].Type == events.ClientDetached
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	h := newHarness(t)
	h.hub.Publish(events.SessionStarted, map[string]any{"run_id": "r1"})
	h.hub.Publish(events.SessionExited, map[string]any{"run_id": "r1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readerToken)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SSE line")
			return ""
		}
	}

	assert.Equal(t, "id: 2", next())
	assert.Equal(t, "event: "+events.SessionExited, next())
	assert.Equal(t, `data: {"run_id":"r1"}`, next())
	assert.Equal(t, "", next())

	h.hub.Publish(events.BridgeConnected, map[string]any{"flavor": "node"})
	assert.Equal(t, "id: 3", next())
	assert.Equal(t, "event: "+events.BridgeConnected, next())
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
