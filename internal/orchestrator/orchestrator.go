// Package orchestrator runs the single debug session: it interprets client
// commands and coordinates the child process, the port allocator and the
// debugger bridges.
//
// All session state is owned by the goroutine running Start. Process output,
// proxy events, timers and port probes are delivered to that goroutine over
// channels, so envelopes reach the client in the order their triggers were
// observed.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mattjoyce/debugbridge/internal/bridge"
	"github.com/mattjoyce/debugbridge/internal/debugproxy"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/portalloc"
	"github.com/mattjoyce/debugbridge/internal/process"
	"github.com/mattjoyce/debugbridge/internal/protocol"
	"github.com/mattjoyce/debugbridge/internal/workspace"
)

const (
	DefaultNodeDebugPort   = 5858
	DefaultChromeDebugPort = 9222
	DefaultAttachDelay     = 100 * time.Millisecond
	DefaultDebugHost       = "localhost"
	DefaultNodeCmd         = "node"

	recordTimeout = 5 * time.Second
)

// ErrStopped is returned by Handle and Status once the loop has exited.
var ErrStopped = errors.New("orchestrator stopped")

// Config holds the runtime knobs of a session.
type Config struct {
	NodeCmd         string
	DebugHost       string
	NodeDebugPort   int
	ChromeDebugPort int
	AttachDelay     time.Duration
	KillGrace       time.Duration
}

func (c Config) withDefaults() Config {
	if c.NodeCmd == "" {
		c.NodeCmd = DefaultNodeCmd
	}
	if c.DebugHost == "" {
		c.DebugHost = DefaultDebugHost
	}
	if c.NodeDebugPort <= 0 {
		c.NodeDebugPort = DefaultNodeDebugPort
	}
	if c.ChromeDebugPort <= 0 {
		c.ChromeDebugPort = DefaultChromeDebugPort
	}
	if c.AttachDelay <= 0 {
		c.AttachDelay = DefaultAttachDelay
	}
	if c.KillGrace <= 0 {
		c.KillGrace = process.DefaultKillGrace
	}
	return c
}

// PortFinder locates a free debugger port. *portalloc.Allocator implements it.
type PortFinder interface {
	FindFreePort(ctx context.Context, start int, host string) (int, error)
}

// Status is a point-in-time view of the session.
type Status struct {
	ProcessRunning bool   `json:"process_running"`
	DebugClient    bool   `json:"debug_client"`
	Launching      bool   `json:"launching"`
	RunID          string `json:"run_id,omitempty"`
	Pid            int    `json:"pid,omitempty"`
	NodeBridge     bool   `json:"node_bridge"`
	NodeDebugPort  int    `json:"node_debug_port"`
	ChromeBridge   bool   `json:"chrome_bridge"`
	ChromePort     int    `json:"chrome_debug_port"`
}

type request struct {
	cmd   *protocol.Command
	reply chan bool
}

// attachDue fires AttachDelay after a debug launch.
type attachDue struct {
	child *process.Child
	cmd   *protocol.Command
}

// portProbed carries the result of a port search back to the loop.
type portProbed struct {
	cmd  *protocol.Command
	port int
	err  error
}

// Orchestrator serializes every session mutation onto one goroutine.
type Orchestrator struct {
	cfg       Config
	resolver  workspace.Resolver
	client    Client
	reporter  Reporter
	ports     PortFinder
	publisher Publisher
	recorder  Recorder
	clock     clock.Clock
	logger    *slog.Logger

	session *process.Session
	node    *bridge.Bridge
	chrome  *bridge.Bridge

	requests     chan request
	statusReqs   chan chan Status
	bridgeEvents chan bridge.Event
	internal     chan any
	records      chan func(context.Context)
	done         chan struct{}

	// Only touched by the loop goroutine.
	ctx       context.Context
	nodePort  int
	launching bool
}

type options struct {
	clock       clock.Clock
	ports       PortFinder
	publisher   Publisher
	recorder    Recorder
	sessionOpts []process.Option
}

type Option func(*options)

// WithClock sets the clock for the attach and kill escalation timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPortFinder replaces the TCP port allocator.
func WithPortFinder(p PortFinder) Option {
	return func(o *options) { o.ports = p }
}

// WithPublisher sends operator telemetry to p.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRecorder records launches and exits to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithSessionOptions passes extra options to the process session.
func WithSessionOptions(opts ...process.Option) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// New wires an orchestrator. It does nothing until Start is called.
func New(cfg Config, resolver workspace.Resolver, spawner process.Spawner, proxies debugproxy.Factory, client Client, reporter Reporter, opts ...Option) *Orchestrator {
	o := options{
		clock:     clock.New(),
		ports:     portalloc.New(),
		publisher: nopPublisher{},
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.withDefaults()

	orc := &Orchestrator{
		cfg:          cfg,
		resolver:     resolver,
		client:       client,
		reporter:     reporter,
		ports:        o.ports,
		publisher:    o.publisher,
		recorder:     o.recorder,
		clock:        o.clock,
		logger:       log.WithComponent("orchestrator"),
		requests:     make(chan request),
		statusReqs:   make(chan chan Status),
		bridgeEvents: make(chan bridge.Event, 64),
		internal:     make(chan any, 16),
		records:      make(chan func(context.Context), 64),
		done:         make(chan struct{}),
		ctx:          context.Background(),
		nodePort:     cfg.NodeDebugPort,
	}

	sessionOpts := append([]process.Option{
		process.WithClock(o.clock),
		process.WithKillGrace(cfg.KillGrace),
	}, o.sessionOpts...)
	orc.session = process.NewSession(spawner, sessionOpts...)

	orc.node = bridge.New(debugproxy.FlavorNode, cfg.DebugHost, proxies, orc.bridgeEvents, orc.done,
		bridge.WithPrecondition(func() error {
			if !orc.session.DebugClient() {
				return bridge.ErrNotDebuggable
			}
			return nil
		}))
	orc.chrome = bridge.New(debugproxy.FlavorChrome, cfg.DebugHost, proxies, orc.bridgeEvents, orc.done)
	return orc
}

// Start runs the loop until ctx is cancelled. On return the child is killed
// and both bridges are closed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx = ctx
	o.logger.Info("orchestrator started", "node_debug_port", o.nodePort, "chrome_debug_port", o.cfg.ChromeDebugPort)
	defer o.shutdown()

	go o.recordLoop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-o.requests:
			req.reply <- o.handle(req.cmd)
		case reply := <-o.statusReqs:
			reply <- o.status()
		case ev := <-o.session.Events():
			o.onProcessEvent(ev)
		case ev := <-o.bridgeEvents:
			o.onBridgeEvent(ev)
		case ev := <-o.internal:
			o.onInternal(ev)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.session.Close()
	o.node.Close()
	o.chrome.Close()
	close(o.done)
	o.logger.Info("orchestrator stopped")
}

// Handle submits a client command and reports whether it was recognized.
// Precondition failures are recognized commands: they go to the Reporter.
func (o *Orchestrator) Handle(ctx context.Context, cmd *protocol.Command) (bool, error) {
	req := request{cmd: cmd, reply: make(chan bool, 1)}
	select {
	case o.requests <- req:
	case <-o.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case handled := <-req.reply:
		return handled, nil
	case <-o.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case o.statusReqs <- reply:
	case <-o.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	select {
	case st := <-reply:
		return st, nil
	case <-o.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (o *Orchestrator) status() Status {
	st := Status{
		ProcessRunning: o.session.Running(),
		DebugClient:    o.session.DebugClient(),
		Launching:      o.launching,
		NodeBridge:     o.node.Active(),
		NodeDebugPort:  o.nodePort,
		ChromeBridge:   o.chrome.Active(),
		ChromePort:     o.cfg.ChromeDebugPort,
	}
	if child := o.session.Child(); child != nil {
		st.RunID = child.ID
		st.Pid = child.Pid
	}
	return st
}

// post hands an event from a timer or probe goroutine to the loop.
func (o *Orchestrator) post(ev any) {
	select {
	case o.internal <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) onInternal(ev any) {
	switch ev := ev.(type) {
	case attachDue:
		o.attachNode(ev)
	case portProbed:
		o.debugPortFound(ev)
	default:
		o.logger.Error("unexpected internal event", "event", ev)
	}
}

// record queues a run log write. Writes happen in order on recordLoop.
func (o *Orchestrator) record(fn func(context.Context)) {
	select {
	case o.records <- fn:
	default:
		o.logger.Warn("run log backlog full, dropping record")
	}
}

func (o *Orchestrator) recordLoop() {
	for {
		select {
		case fn := <-o.records:
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			fn(ctx)
			cancel()
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) report(message string, code int, cmd *protocol.Command) {
	o.logger.Warn("command rejected", "command", cmd.Name(), "code", code, "message", message)
	o.publisher.Publish(events.CommandRejected, map[string]any{
		"command": cmd.Name(),
		"code":    code,
		"message": message,
	})
	o.reporter.Report(message, code, cmd)
}
