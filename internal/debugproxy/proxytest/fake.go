// Package proxytest provides a scriptable debugproxy.Proxy for tests.
package proxytest

import (
	"context"
	"sync"

	"github.com/mattjoyce/debugbridge/internal/debugproxy"
)

// Proxy records calls and publishes whatever events the test scripts.
type Proxy struct {
	Flavor debugproxy.Flavor
	Host   string
	Port   int

	ch      chan debugproxy.Event
	endOnce sync.Once

	mu       sync.Mutex
	connects int
	sent     [][]byte
	closed   bool
	sendErr  error
}

var _ debugproxy.Proxy = (*Proxy)(nil)

func New(flavor debugproxy.Flavor, host string, port int) *Proxy {
	return &Proxy{
		Flavor: flavor,
		Host:   host,
		Port:   port,
		ch:     make(chan debugproxy.Event, 64),
	}
}

func (p *Proxy) Connect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
}

func (p *Proxy) Send(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, append([]byte(nil), body...))
	return nil
}

func (p *Proxy) Events() <-chan debugproxy.Event { return p.ch }

func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetSendError makes every later Send fail with err.
func (p *Proxy) SetSendError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// Connected publishes a connection event.
func (p *Proxy) Connected() {
	p.ch <- debugproxy.Event{Kind: debugproxy.EventConnection}
}

// Message publishes a debugger message.
func (p *Proxy) Message(body string) {
	p.ch <- debugproxy.Event{Kind: debugproxy.EventMessage, Body: []byte(body)}
}

// End publishes an end event and closes the stream.
func (p *Proxy) End(err error) {
	p.endOnce.Do(func() {
		p.ch <- debugproxy.Event{Kind: debugproxy.EventEnd, Err: err}
		close(p.ch)
	})
}

func (p *Proxy) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *Proxy) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, b := range p.sent {
		out = append(out, string(b))
	}
	return out
}

func (p *Proxy) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory hands out fake proxies and remembers them in creation order.
type Factory struct {
	mu      sync.Mutex
	proxies []*Proxy
}

func (f *Factory) New(flavor debugproxy.Flavor, host string, port int) debugproxy.Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := New(flavor, host, port)
	f.proxies = append(f.proxies, p)
	return p
}

// Created returns every proxy built so far.
func (f *Factory) Created() []*Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Proxy(nil), f.proxies...)
}

// Last returns the most recent proxy of flavor, or nil.
func (f *Factory) Last(flavor debugproxy.Flavor) *Proxy {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.proxies) - 1; i >= 0; i-- {
		if f.proxies[i].Flavor == flavor {
			return f.proxies[i]
		}
	}
	return nil
}
