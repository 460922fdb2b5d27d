package debugproxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	connectTimeout time.Duration
	dial           func(ctx context.Context, network, address string) (net.Conn, error)
	httpClient     *http.Client
	wsDialer       *websocket.Dialer
}

type Option func(*options)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for Chrome target discovery.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(opts []Option) options {
	d := &net.Dialer{Timeout: 2 * time.Second}
	o := options{
		connectTimeout: DefaultConnectTimeout,
		dial:           d.DialContext,
		httpClient:     &http.Client{Timeout: 2 * time.Second},
		wsDialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewFactory returns a Factory building proxies with opts.
func NewFactory(opts ...Option) Factory {
	return func(flavor Flavor, host string, port int) Proxy {
		if flavor == FlavorChrome {
			return NewChromeProxy(host, port, opts...)
		}
		return NewNodeProxy(host, port, opts...)
	}
}
