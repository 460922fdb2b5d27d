// Package bridge owns at most one debugger proxy per protocol flavor and
// relays its events to a single consumer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/debugbridge/internal/debugproxy"
	"github.com/mattjoyce/debugbridge/internal/log"
)

var (
	// ErrAlreadyRunning is returned by Start while a proxy is owned.
	ErrAlreadyRunning = errors.New("debug bridge already running")
	// ErrNotRunning is returned by Send without an owned proxy.
	ErrNotRunning = errors.New("no debug bridge running")
	// ErrNotDebuggable is what preconditions return when the debuggee was not
	// launched debuggable.
	ErrNotDebuggable = errors.New("no debuggable application running")
)

// Event is a proxy event tagged with the bridge flavor and the proxy that
// produced it, so consumers can discard events from superseded proxies.
type Event struct {
	Flavor debugproxy.Flavor
	Proxy  debugproxy.Proxy
	debugproxy.Event
}

// Bridge owns at most one proxy of one flavor. Its methods are meant to be
// called from the goroutine consuming the events channel.
type Bridge struct {
	flavor       debugproxy.Flavor
	host         string
	factory      debugproxy.Factory
	precondition func() error
	out          chan<- Event
	done         <-chan struct{}
	logger       *slog.Logger

	current debugproxy.Proxy
	port    int
}

type Option func(*Bridge)

// WithPrecondition makes Start fail with check's error before any proxy is built.
func WithPrecondition(check func() error) Option {
	return func(b *Bridge) { b.precondition = check }
}

// New creates an idle bridge. Events of every proxy it starts are posted to
// out until done is closed.
func New(flavor debugproxy.Flavor, host string, factory debugproxy.Factory, out chan<- Event, done <-chan struct{}, opts ...Option) *Bridge {
	b := &Bridge{
		flavor:  flavor,
		host:    host,
		factory: factory,
		out:     out,
		done:    done,
		logger:  log.WithComponent("bridge").With("flavor", string(flavor)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Flavor() debugproxy.Flavor { return b.flavor }

// Active reports whether a proxy is owned.
func (b *Bridge) Active() bool { return b.current != nil }

// Port returns the port of the owned proxy, or 0.
func (b *Bridge) Port() int {
	if b.current == nil {
		return 0
	}
	return b.port
}

// IsCurrent reports whether p is the owned proxy.
func (b *Bridge) IsCurrent(p debugproxy.Proxy) bool {
	return p != nil && p == b.current
}

// Start builds a proxy for port, wires its events and begins connecting.
func (b *Bridge) Start(ctx context.Context, port int) error {
	if b.precondition != nil {
		if err := b.precondition(); err != nil {
			return err
		}
	}
	if b.current != nil {
		return ErrAlreadyRunning
	}

	p := b.factory(b.flavor, b.host, port)
	b.current = p
	b.port = port
	b.logger.Info("debug bridge starting", "port", port)

	go b.relay(p)
	p.Connect(ctx)
	return nil
}

// Send forwards body to the owned proxy.
func (b *Bridge) Send(body []byte) error {
	if b.current == nil {
		return ErrNotRunning
	}
	if err := b.current.Send(body); err != nil {
		return fmt.Errorf("%s bridge: %w", b.flavor, err)
	}
	return nil
}

// Release drops ownership of p when its connection ended. A late end from a
// superseded proxy is ignored and reported as false.
func (b *Bridge) Release(p debugproxy.Proxy) bool {
	if !b.IsCurrent(p) {
		return false
	}
	b.current = nil
	b.port = 0
	b.logger.Info("debug bridge released")
	return true
}

// Drop forgets the owned proxy without closing it. Used when the debuggee
// exits, which ends the connection on its own.
func (b *Bridge) Drop() {
	b.current = nil
	b.port = 0
}

// Close closes and forgets the owned proxy.
func (b *Bridge) Close() {
	if b.current == nil {
		return
	}
	if err := b.current.Close(); err != nil {
		b.logger.Debug("close proxy", "error", err)
	}
	b.Drop()
}

func (b *Bridge) relay(p debugproxy.Proxy) {
	for ev := range p.Events() {
		select {
		case b.out <- Event{Flavor: b.flavor, Proxy: p, Event: ev}:
		case <-b.done:
			return
		}
	}
}
