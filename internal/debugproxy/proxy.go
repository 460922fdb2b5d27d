// Package debugproxy connects to out-of-process debuggers and exposes them as
// event streams.
//
// Two flavors exist: the V8 legacy debugger protocol spoken by `node --debug`
// (Content-Length framed JSON over TCP) and the Chrome remote-debugging protocol
// (JSON over a WebSocket discovered via /json). Callers depend only on Proxy.
package debugproxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Flavor names a debugger protocol.
type Flavor string

const (
	FlavorNode   Flavor = "node"
	FlavorChrome Flavor = "chrome"
)

// DefaultConnectTimeout bounds how long Connect keeps retrying while the
// debuggee opens its port.
const DefaultConnectTimeout = 10 * time.Second

// ErrNotConnected is returned by Send before the connection is established.
var ErrNotConnected = errors.New("debugger not connected")

type EventKind int

const (
	EventConnection EventKind = iota + 1
	EventMessage
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventConnection:
		return "connection"
	case EventMessage:
		return "message"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is published by a Proxy. Body is set for EventMessage, Err may be set
// for EventEnd.
type Event struct {
	Kind EventKind
	Body []byte
	Err  error
}

// Proxy is a debugger connection.
type Proxy interface {
	// Connect starts connecting in the background and returns immediately.
	// Progress is reported on Events.
	Connect(ctx context.Context)

	// Send forwards one protocol message to the debugger.
	Send(body []byte) error

	// Events is closed after EventEnd has been published.
	Events() <-chan Event

	// Close tears down the connection.
	Close() error
}

// Factory builds a Proxy for a flavor and port.
type Factory func(flavor Flavor, host string, port int) Proxy

// events is the shared publish side of a Proxy. Only the connect goroutine
// publishes, so finish can safely close the channel.
type events struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	endOnce   sync.Once
}

func newEvents() events {
	return events{
		ch:   make(chan Event, 64),
		done: make(chan struct{}),
	}
}

func (e *events) emit(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

func (e *events) finish(err error) {
	e.endOnce.Do(func() {
		e.emit(Event{Kind: EventEnd, Err: err})
		close(e.ch)
	})
}

func (e *events) shutdown() {
	e.closeOnce.Do(func() { close(e.done) })
}
