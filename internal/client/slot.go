// Package client holds the one remote connection envelopes are delivered to.
package client

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/protocol"
)

// ErrClosed is returned by Conn.Send after the connection went away.
var ErrClosed = errors.New("client connection closed")

// Conn is one client connection.
type Conn interface {
	ID() string
	Send(env protocol.Envelope) error
	Close() error
}

// Slot holds at most one Conn. Attaching a new connection replaces the old
// one; envelopes sent while the slot is empty are dropped.
type Slot struct {
	mu     sync.RWMutex
	conn   Conn
	logger *slog.Logger
}

func NewSlot() *Slot {
	return &Slot{logger: log.WithComponent("client")}
}

// Attach makes c the current connection and returns the one it replaced.
func (s *Slot) Attach(c Conn) Conn {
	s.mu.Lock()
	prev := s.conn
	s.conn = c
	s.mu.Unlock()

	s.logger.Info("client attached", "client_id", c.ID())
	if prev != nil {
		s.logger.Info("client replaced", "client_id", prev.ID())
	}
	return prev
}

// Detach empties the slot if c is still the current connection.
func (s *Slot) Detach(c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn != c {
		return false
	}
	s.conn = nil
	s.logger.Info("client detached", "client_id", c.ID())
	return true
}

// Attached reports whether a connection is present.
func (s *Slot) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Current returns the attached connection, or nil.
func (s *Slot) Current() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Send delivers env to the attached connection. It returns false when the
// envelope was dropped. A connection that is closed or cannot keep up is
// detached, so later envelopes see an empty slot.
func (s *Slot) Send(env protocol.Envelope) bool {
	c := s.Current()
	if c == nil {
		return false
	}
	err := c.Send(env)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrSlowClient), errors.Is(err, ErrClosed):
		s.logger.Warn("client dropped", "client_id", c.ID(), "type", env.Type, "error", err)
		s.Detach(c)
		_ = c.Close()
	default:
		s.logger.Debug("envelope dropped", "client_id", c.ID(), "type", env.Type, "error", err)
	}
	return false
}

// Report sends a rejected command to the attached connection as an error
// envelope. It satisfies the orchestrator's error sink.
func (s *Slot) Report(message string, code int, cmd *protocol.Command) {
	name := ""
	if cmd != nil {
		name = cmd.Name()
	}
	s.Send(protocol.Error(message, code, name))
}
