package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

// ErrSlowClient is returned by Send when the outbound buffer is full.
var ErrSlowClient = errors.New("client send buffer full")

// WSConn is a Conn over a gorilla WebSocket. Every envelope is written as its
// own text message.
type WSConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	err    error
	logger *slog.Logger
}

var _ Conn = (*WSConn)(nil)

func NewWSConn(conn *websocket.Conn) *WSConn {
	id := uuid.NewString()
	return &WSConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: log.WithComponent("client").With("client_id", id),
	}
}

func (c *WSConn) ID() string { return c.id }

// Send queues env for the write pump.
func (c *WSConn) Send(env protocol.Envelope) error {
	b, err := protocol.MarshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		// A peer that cannot keep up is disconnected rather than skipped.
		c.closeWith(ErrSlowClient)
		return ErrSlowClient
	}
}

// Close stops both pumps. The write pump sends a close frame and closes the
// socket, which unblocks the read pump.
func (c *WSConn) Close() error {
	c.closeWith(ErrClosed)
	return nil
}

func (c *WSConn) closeWith(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the connection is gone.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed: ErrSlowClient when the send buffer
// overflowed, ErrClosed otherwise. It is nil while the connection is open.
func (c *WSConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Serve runs the write pump in the background and reads messages until the
// connection fails or is closed. onMessage is called for each text message.
func (c *WSConn) Serve(onMessage func([]byte)) {
	go c.writePump()
	c.readPump(onMessage)
}

func (c *WSConn) readPump(onMessage func([]byte)) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("client read error", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		onMessage(message)
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("client write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
