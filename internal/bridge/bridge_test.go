package bridge

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/debugbridge/internal/debugproxy"
	"github.com/mattjoyce/debugbridge/internal/debugproxy/proxytest"
	"github.com/mattjoyce/debugbridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func newTestBridge(t *testing.T, flavor debugproxy.Flavor, opts ...Option) (*Bridge, *proxytest.Factory, chan Event) {
	t.Helper()
	f := &proxytest.Factory{}
	out := make(chan Event, 16)
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	return New(flavor, "localhost", f.New, out, done, opts...), f, out
}

func nextBridgeEvent(t *testing.T, out <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridge event")
		return Event{}
	}
}

func TestStartConnectsAndRelays(t *testing.T) {
	b, f, out := newTestBridge(t, debugproxy.FlavorNode)

	require.NoError(t, b.Start(context.Background(), 5860))
	assert.True(t, b.Active())
	assert.Equal(t, 5860, b.Port())

	p := f.Last(debugproxy.FlavorNode)
	require.NotNil(t, p)
	assert.Equal(t, 5860, p.Port)
	assert.Equal(t, "localhost", p.Host)
	assert.Equal(t, 1, p.Connects())

	p.Connected()
	p.Message(`{"seq":1}`)

	ev := nextBridgeEvent(t, out)
	assert.Equal(t, debugproxy.EventConnection, ev.Kind)
	assert.Equal(t, debugproxy.FlavorNode, ev.Flavor)
	assert.True(t, b.IsCurrent(ev.Proxy))

	ev = nextBridgeEvent(t, out)
	assert.Equal(t, debugproxy.EventMessage, ev.Kind)
	assert.Equal(t, `{"seq":1}`, string(ev.Body))
}

func TestStartRejectsSecondProxy(t *testing.T) {
	b, f, _ := newTestBridge(t, debugproxy.FlavorChrome)

	require.NoError(t, b.Start(context.Background(), 9222))
	assert.ErrorIs(t, b.Start(context.Background(), 9222), ErrAlreadyRunning)
	assert.Len(t, f.Created(), 1)
}

func TestStartPrecondition(t *testing.T) {
	errNope := errors.New("not debuggable")
	b, f, _ := newTestBridge(t, debugproxy.FlavorNode, WithPrecondition(func() error { return errNope }))

	assert.ErrorIs(t, b.Start(context.Background(), 5858), errNope)
	assert.False(t, b.Active())
	assert.Empty(t, f.Created(), "no proxy may be built when the precondition fails")
}

func TestReleaseIgnoresStaleProxy(t *testing.T) {
	b, f, _ := newTestBridge(t, debugproxy.FlavorNode)

	require.NoError(t, b.Start(context.Background(), 5858))
	first := f.Last(debugproxy.FlavorNode)
	b.Drop()

	require.NoError(t, b.Start(context.Background(), 5859))
	second := f.Last(debugproxy.FlavorNode)

	assert.False(t, b.Release(first), "a late end from a superseded proxy must not clobber the new one")
	assert.True(t, b.Active())
	assert.True(t, b.Release(second))
	assert.False(t, b.Active())
	assert.False(t, first.Closed(), "Drop must not close the proxy")
}

func TestSend(t *testing.T) {
	b, f, _ := newTestBridge(t, debugproxy.FlavorNode)

	assert.ErrorIs(t, b.Send([]byte(`{}`)), ErrNotRunning)

	require.NoError(t, b.Start(context.Background(), 5858))
	require.NoError(t, b.Send([]byte(`{"command":"continue"}`)))
	assert.Equal(t, []string{`{"command":"continue"}`}, f.Last(debugproxy.FlavorNode).Sent())

	f.Last(debugproxy.FlavorNode).SetSendError(debugproxy.ErrNotConnected)
	assert.ErrorIs(t, b.Send([]byte(`{}`)), debugproxy.ErrNotConnected)
}

func TestCloseClosesProxy(t *testing.T) {
	b, f, _ := newTestBridge(t, debugproxy.FlavorChrome)

	require.NoError(t, b.Start(context.Background(), 9222))
	b.Close()
	assert.False(t, b.Active())
	assert.True(t, f.Last(debugproxy.FlavorChrome).Closed())
	b.Close()
}

func TestRelayStopsAfterEnd(t *testing.T) {
	b, f, out := newTestBridge(t, debugproxy.FlavorNode)

	require.NoError(t, b.Start(context.Background(), 5858))
	p := f.Last(debugproxy.FlavorNode)
	p.End(nil)

	ev := nextBridgeEvent(t, out)
	assert.Equal(t, debugproxy.EventEnd, ev.Kind)
	assert.True(t, b.Release(ev.Proxy))
}
