// Package events is the operator feed: an in-memory pub/sub of session
// lifecycle events with a ring buffer so late subscribers can catch up.
// Client envelopes never go through here.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Event types published by the orchestrator and the API host.
const (
	SessionStarted  = "session.started"
	SessionExited   = "session.exited"
	BridgeConnected = "bridge.connected"
	BridgeEnded     = "bridge.ended"
	ClientAttached  = "client.attached"
	ClientDetached  = "client.detached"
	CommandRejected = "command.rejected"
)

const DefaultCapacity = 256

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block publishers.
type Hub struct {
	nextID atomic.Int64
	clock  clock.Clock

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

type Option func(*Hub)

// WithClock sets the clock used to timestamp events.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func NewHub(capacity int, opts ...Option) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Hub{
		clock: clock.New(),
		ring:  make([]Event, capacity),
		subs:  make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish records an event with data marshalled as JSON.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   h.clock.Now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a live channel and its cancel func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
