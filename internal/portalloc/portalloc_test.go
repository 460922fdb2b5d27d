package portalloc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDialer accepts connections to the ports in occupied and refuses the rest.
type fakeDialer struct {
	mu       sync.Mutex
	occupied map[int]bool
	always   bool
	probed   []int
	inFlight int
	maxSeen  int
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.maxSeen {
		d.maxSeen = d.inFlight
	}
	d.probed = append(d.probed, port)
	open := d.always || d.occupied[port]
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if !open {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestFindFreePort_StartIsFree(t *testing.T) {
	d := &fakeDialer{occupied: map[int]bool{}}
	a := NewWithDialer(d, time.Second)

	port, err := a.FindFreePort(context.Background(), 5858, "localhost")
	require.NoError(t, err)
	assert.Equal(t, 5858, port)
	assert.Equal(t, []int{5858}, d.probed)
}

func TestFindFreePort_SkipsConsecutiveOccupied(t *testing.T) {
	d := &fakeDialer{occupied: map[int]bool{5858: true, 5859: true, 5860: true, 5862: true}}
	a := NewWithDialer(d, time.Second)

	port, err := a.FindFreePort(context.Background(), 5858, "localhost")
	require.NoError(t, err)
	assert.Equal(t, 5861, port)
	assert.Equal(t, []int{5858, 5859, 5860, 5861}, d.probed, "probe must be a linear walk")
	assert.Equal(t, 1, d.maxSeen, "probes must be sequential")
}

func TestFindFreePort_CancelledContext(t *testing.T) {
	d := &fakeDialer{always: true}
	a := NewWithDialer(d, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.FindFreePort(ctx, 20000, "localhost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFindFreePort_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	start := ln.Addr().(*net.TCPAddr).Port
	port, err := New().FindFreePort(context.Background(), start, "127.0.0.1")
	require.NoError(t, err)
	assert.Greater(t, port, start, "listening port must be skipped")

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("port %d accepted a connection right after being reported free", port)
	}
}
