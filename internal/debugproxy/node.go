package debugproxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"sync"

	"github.com/mattjoyce/debugbridge/internal/log"
)

// maxMessageBytes caps a single debugger message.
const maxMessageBytes = 64 << 20

// NodeProxy speaks the V8 legacy debugger protocol: MIME-style headers
// terminated by a blank line, then Content-Length bytes of JSON.
type NodeProxy struct {
	events
	opts   options
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Proxy = (*NodeProxy)(nil)

// NewNodeProxy creates an unconnected proxy for host:port.
func NewNodeProxy(host string, port int, opts ...Option) *NodeProxy {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &NodeProxy{
		events: newEvents(),
		opts:   buildOptions(opts),
		addr:   addr,
		logger: log.WithComponent("debugproxy").With("flavor", string(FlavorNode), "addr", addr),
	}
}

func (p *NodeProxy) Events() <-chan Event { return p.ch }

func (p *NodeProxy) Connect(ctx context.Context) {
	go p.run(ctx)
}

func (p *NodeProxy) Send(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	if err := writeMessage(p.conn, body); err != nil {
		return fmt.Errorf("send to %s: %w", p.addr, err)
	}
	return nil
}

func (p *NodeProxy) Close() error {
	p.shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *NodeProxy) run(ctx context.Context) {
	conn, err := retryGet(ctx, p.opts.connectTimeout, func() (net.Conn, error) {
		return p.opts.dial(ctx, "tcp", p.addr)
	})
	if err != nil {
		p.logger.Warn("debugger connect failed", "error", err)
		p.finish(fmt.Errorf("connect %s: %w", p.addr, err))
		return
	}

	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		_ = conn.Close()
		p.finish(nil)
		return
	default:
	}
	p.conn = conn
	p.mu.Unlock()

	p.logger.Info("debugger connected")
	p.emit(Event{Kind: EventConnection})

	r := textproto.NewReader(bufio.NewReader(conn))
	for {
		body, err := readMessage(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			p.logger.Info("debugger connection ended", "error", err)
			p.finish(err)
			return
		}
		// The handshake carries headers only.
		if len(body) == 0 {
			continue
		}
		p.emit(Event{Kind: EventMessage, Body: body})
	}
}

func readMessage(r *textproto.Reader) ([]byte, error) {
	hdr, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	raw := hdr.Get("Content-Length")
	if raw == "" {
		return nil, fmt.Errorf("message missing Content-Length header")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxMessageBytes {
		return nil, fmt.Errorf("invalid Content-Length %q", raw)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.R, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return body, nil
}

func writeMessage(w io.Writer, body []byte) error {
	frame := make([]byte, 0, len(body)+32)
	frame = append(frame, "Content-Length: "...)
	frame = strconv.AppendInt(frame, int64(len(body)), 10)
	frame = append(frame, "\r\n\r\n"...)
	frame = append(frame, body...)
	_, err := w.Write(frame)
	return err
}
