package debugproxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeChrome serves /json and an echoing page target.
func newFakeChrome(t *testing.T, targets func(wsURL string) []chromeTarget) (*httptest.Server, string, int) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	wsURL := "ws://" + net.JoinHostPort(host, portStr) + "/devtools/page/1"

	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(targets(wsURL))
	})
	mux.HandleFunc("/devtools/page/1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	return srv, host, port
}

func TestChromeProxyConnectsToPageTarget(t *testing.T) {
	_, host, port := newFakeChrome(t, func(wsURL string) []chromeTarget {
		return []chromeTarget{
			{ID: "bg", Type: "background_page"},
			{ID: "1", Type: "page", URL: "about:blank", WebSocketDebuggerURL: wsURL},
		}
	})

	p := NewChromeProxy(host, port)
	defer p.Close()
	p.Connect(context.Background())

	ev, ok := nextProxyEvent(t, p)
	require.True(t, ok)
	require.Equal(t, EventConnection, ev.Kind)

	require.NoError(t, p.Send([]byte(`{"id":1,"method":"Runtime.enable"}`)))
	ev, ok = nextProxyEvent(t, p)
	require.True(t, ok)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.JSONEq(t, `{"id":1,"method":"Runtime.enable"}`, string(ev.Body))

	require.NoError(t, p.Close())
}

func TestChromeDiscoverFallsBackToAnyTarget(t *testing.T) {
	_, host, port := newFakeChrome(t, func(wsURL string) []chromeTarget {
		return []chromeTarget{{ID: "w", Type: "service_worker", WebSocketDebuggerURL: wsURL}}
	})

	p := NewChromeProxy(host, port)
	got, err := p.discover(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "/devtools/page/1"))
}

func TestChromeDiscoverWithoutTargets(t *testing.T) {
	_, host, port := newFakeChrome(t, func(string) []chromeTarget { return nil })

	p := NewChromeProxy(host, port)
	_, err := p.discover(context.Background())
	assert.Error(t, err)
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestChromeDiscoverUsesConfiguredHTTPClient(t *testing.T) {
	_, host, port := newFakeChrome(t, func(wsURL string) []chromeTarget {
		return []chromeTarget{{ID: "1", Type: "page", WebSocketDebuggerURL: wsURL}}
	})

	transport := &countingTransport{}
	p := NewChromeProxy(host, port, WithHTTPClient(&http.Client{Transport: transport, Timeout: time.Second}))
	_, err := p.discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestNewFactorySelectsFlavor(t *testing.T) {
	f := NewFactory()
	_, isNode := f(FlavorNode, "localhost", 5858).(*NodeProxy)
	_, isChrome := f(FlavorChrome, "localhost", 9222).(*ChromeProxy)
	assert.True(t, isNode)
	assert.True(t, isChrome)
}
