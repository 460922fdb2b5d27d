package debugproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mattjoyce/debugbridge/internal/log"
)

// ChromeProxy speaks the Chrome remote-debugging protocol. The WebSocket URL
// of the first page target is discovered from http://host:port/json.
type ChromeProxy struct {
	events
	opts    options
	baseURL string
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ Proxy = (*ChromeProxy)(nil)

// chromeTarget is one entry of the /json target list.
type chromeTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewChromeProxy creates an unconnected proxy for the browser on host:port.
func NewChromeProxy(host string, port int, opts ...Option) *ChromeProxy {
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	return &ChromeProxy{
		events:  newEvents(),
		opts:    buildOptions(opts),
		baseURL: base,
		logger:  log.WithComponent("debugproxy").With("flavor", string(FlavorChrome), "url", base),
	}
}

func (p *ChromeProxy) Events() <-chan Event { return p.ch }

func (p *ChromeProxy) Connect(ctx context.Context) {
	go p.run(ctx)
}

func (p *ChromeProxy) Send(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("send to chrome: %w", err)
	}
	return nil
}

func (p *ChromeProxy) Close() error {
	p.shutdown()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(100*time.Millisecond),
	)
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *ChromeProxy) run(ctx context.Context) {
	conn, err := retryGet(ctx, p.opts.connectTimeout, func() (*websocket.Conn, error) {
		wsURL, err := p.discover(ctx)
		if err != nil {
			return nil, err
		}
		conn, _, err := p.opts.wsDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", wsURL, err)
		}
		return conn, nil
	})
	if err != nil {
		p.logger.Warn("chrome connect failed", "error", err)
		p.finish(fmt.Errorf("connect %s: %w", p.baseURL, err))
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

	p.logger.Info("chrome connected")
	p.emit(Event{Kind: EventConnection})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			p.logger.Info("chrome connection ended", "error", err)
			p.finish(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		p.emit(Event{Kind: EventMessage, Body: msg})
	}
}

// discover returns the WebSocket URL of the first page target, falling back
// to any target that exposes one.
func (p *ChromeProxy) discover(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/json", nil)
	if err != nil {
		return "", err
	}
	resp, err := p.opts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("list targets: unexpected status %d", resp.StatusCode)
	}

	var targets []chromeTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode targets: %w", err)
	}

	fallback := ""
	for _, t := range targets {
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		if t.Type == "page" {
			return t.WebSocketDebuggerURL, nil
		}
		if fallback == "" {
			fallback = t.WebSocketDebuggerURL
		}
	}
	if fallback == "" {
		return "", errors.New("no debuggable chrome target")
	}
	return fallback, nil
}
