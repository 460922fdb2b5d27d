package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/mattjoyce/debugbridge/internal/log"
)

const (
	// DefaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 2 * time.Second

	readChunkSize = 32 * 1024
)

// Stream names for EventData.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ErrAlreadyRunning is returned by Start while a child is owned.
var ErrAlreadyRunning = errors.New("child process already running")

type EventKind int

const (
	EventData EventKind = iota + 1
	EventExit
	EventKillTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventExit:
		return "exit"
	case EventKillTimeout:
		return "kill_timeout"
	default:
		return "unknown"
	}
}

// Event is published on Session.Events. Child identifies the generation the
// event belongs to; events for a child that is no longer owned are stale.
type Event struct {
	Kind     EventKind
	Child    *Child
	Stream   string
	Data     []byte
	ExitCode int
	Err      error
}

// LaunchSpec describes one child launch.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	// Debug marks the launch as debuggable by the process debugger.
	Debug bool
}

// Child is one spawned process generation.
type Child struct {
	ID        string
	Pid       int
	Spec      LaunchSpec
	StartedAt time.Time

	proc      Process
	timers    []*clock.Timer
	escalated bool
}

// Session owns at most one child process.
type Session struct {
	spawner   Spawner
	clock     clock.Clock
	killGrace time.Duration
	ambient   func() []string
	logger    *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	child       *Child
	debugClient bool
}

type Option func(*Session)

// WithClock sets the clock used for the kill escalation timer.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithKillGrace overrides DefaultKillGrace.
func WithKillGrace(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// WithAmbientEnv overrides the environment the launch overlay is merged into.
func WithAmbientEnv(fn func() []string) Option {
	return func(s *Session) { s.ambient = fn }
}

// NewSession creates an idle Session.
func NewSession(spawner Spawner, opts ...Option) *Session {
	s := &Session{
		spawner:   spawner,
		clock:     clock.New(),
		killGrace: DefaultKillGrace,
		ambient:   AmbientEnv,
		logger:    log.WithComponent("process"),
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel all child events are published on.
func (s *Session) Events() <-chan Event { return s.events }

// Child returns the owned child, or nil.
func (s *Session) Child() *Child { return s.child }

// Running reports whether a child is owned.
func (s *Session) Running() bool { return s.child != nil }

// DebugClient reports whether the owned child was launched debuggable.
func (s *Session) DebugClient() bool { return s.debugClient }

// Start spawns a child. The launch overlay env is merged over the ambient env.
func (s *Session) Start(spec LaunchSpec) (*Child, error) {
	if s.child != nil {
		return nil, ErrAlreadyRunning
	}

	env := MergeEnv(spec.Env, s.ambient())
	proc, err := s.spawner.Spawn(spec.Command, spec.Args, spec.Dir, env)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Command, err)
	}

	child := &Child{
		ID:        uuid.NewString(),
		Pid:       proc.Pid(),
		Spec:      spec,
		StartedAt: s.clock.Now(),
		proc:      proc,
	}
	s.child = child
	s.debugClient = spec.Debug

	s.logger.Info("child started",
		"run_id", child.ID,
		"pid", child.Pid,
		"command", spec.Command,
		"args", spec.Args,
		"debug", spec.Debug,
	)

	go s.stream(child)
	return child, nil
}

// Stop sends SIGTERM to the owned child and arms the SIGKILL escalation.
// It returns false when no child is owned.
func (s *Session) Stop() bool {
	child := s.child
	if child == nil {
		return false
	}

	if err := child.proc.Terminate(); err != nil {
		// Best effort: the process may already be gone.
		s.logger.Debug("SIGTERM failed", "run_id", child.ID, "error", err)
	}

	t := s.clock.AfterFunc(s.killGrace, func() {
		s.post(Event{Kind: EventKillTimeout, Child: child})
	})
	child.timers = append(child.timers, t)
	return true
}

// Escalate handles an EventKillTimeout. SIGKILL is sent at most once per
// child, and only while that child is still the owned one.
func (s *Session) Escalate(child *Child) bool {
	if child == nil || child != s.child || child.escalated {
		return false
	}
	child.escalated = true

	s.logger.Warn("child did not exit after SIGTERM, sending SIGKILL", "run_id", child.ID, "pid", child.Pid)
	_ = child.proc.Kill()
	return true
}

// Terminate sends SIGTERM to the owned child without arming the escalation.
// Errors are ignored.
func (s *Session) Terminate() {
	if s.child == nil {
		return
	}
	_ = s.child.proc.Terminate()
}

// KillNow sends SIGKILL to the owned child without escalation bookkeeping.
// Errors are ignored.
func (s *Session) KillNow() {
	if s.child == nil {
		return
	}
	_ = s.child.proc.Kill()
}

// HandleExit releases ownership of child after an EventExit. It returns false
// for a stale event.
func (s *Session) HandleExit(child *Child) bool {
	if child == nil || child != s.child {
		return false
	}
	for _, t := range child.timers {
		t.Stop()
	}
	child.timers = nil

	s.child = nil
	s.debugClient = false
	return true
}

// Close kills the owned child and stops publishing events.
func (s *Session) Close() {
	s.KillNow()
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) stream(child *Child) {
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(child, StreamStdout, child.proc.Stdout(), &wg)
	go s.pump(child, StreamStderr, child.proc.Stderr(), &wg)
	wg.Wait()

	code, err := child.proc.Wait()
	s.post(Event{Kind: EventExit, Child: child, ExitCode: code, Err: err})
}

func (s *Session) pump(child *Child, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	if r == nil {
		return
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(Event{Kind: EventData, Child: child, Stream: stream, Data: chunk}) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) post(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
