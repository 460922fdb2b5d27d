// Package portalloc finds a free TCP port by probing upward from a start value.
//
// A port counts as occupied when a TCP connection to it succeeds, and as free as
// soon as a connection attempt fails. Probes are strictly sequential: each dial is
// started only after the previous one has resolved.
package portalloc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single probe. A filtered port that never answers
// counts as free once the timeout expires.
const DefaultDialTimeout = 500 * time.Millisecond

// Dialer opens probe connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Allocator probes ports on a single host.
type Allocator struct {
	dialer  Dialer
	timeout time.Duration
}

// New returns an Allocator that probes with a plain TCP dialer.
func New() *Allocator {
	return &Allocator{
		dialer:  &net.Dialer{},
		timeout: DefaultDialTimeout,
	}
}

// NewWithDialer is New with a custom dialer and per-probe timeout.
func NewWithDialer(d Dialer, timeout time.Duration) *Allocator {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return &Allocator{dialer: d, timeout: timeout}
}

// FindFreePort returns the first port >= start on host that refuses a TCP
// connection. There is no upper bound; the only failure is ctx cancellation.
func (a *Allocator) FindFreePort(ctx context.Context, start int, host string) (int, error) {
	port := start
	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("find free port from %d: %w", start, err)
		}

		occupied, err := a.probe(ctx, host, port)
		if err != nil {
			return 0, fmt.Errorf("find free port from %d: %w", start, err)
		}
		if !occupied {
			return port, nil
		}
		port++
	}
}

// probe reports whether host:port accepted a connection. It only returns an
// error when ctx itself was cancelled during the dial.
func (a *Allocator) probe(ctx context.Context, host string, port int) (bool, error) {
	dctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	conn, err := a.dialer.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
