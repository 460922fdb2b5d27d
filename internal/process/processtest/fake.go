// Package processtest provides a scriptable process.Spawner for tests.
package processtest

import (
	"errors"
	"io"
	"sync"

	"github.com/mattjoyce/debugbridge/internal/process"
)

// ErrFinished is what Kill and Terminate return after Exit.
var ErrFinished = errors.New("process already finished")

// Process is a fake child whose output and exit are driven by the test.
type Process struct {
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
	exitCode         chan int
	exitOnce         sync.Once

	mu         sync.Mutex
	terminated int
	killed     int
	exited     bool
}

var _ process.Process = (*Process)(nil)

func NewProcess(pid int) *Process {
	or, ow := io.Pipe()
	er, ew := io.Pipe()
	return &Process{
		pid:      pid,
		stdoutR:  or,
		stdoutW:  ow,
		stderrR:  er,
		stderrW:  ew,
		exitCode: make(chan int, 1),
	}
}

func (p *Process) Pid() int          { return p.pid }
func (p *Process) Stdout() io.Reader { return p.stdoutR }
func (p *Process) Stderr() io.Reader { return p.stderrR }

func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	if p.exited {
		return ErrFinished
	}
	return nil
}

func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	if p.exited {
		return ErrFinished
	}
	return nil
}

func (p *Process) Wait() (int, error) {
	return <-p.exitCode, nil
}

// Write emits chunk on stream ("stdout" or "stderr"). It blocks until the
// session has read it.
func (p *Process) Write(stream, chunk string) {
	w := p.stdoutW
	if stream == process.StreamStderr {
		w = p.stderrW
	}
	_, _ = w.Write([]byte(chunk))
}

// Exit closes both streams and lets Wait return code.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exitCode <- code
	})
}

func (p *Process) Terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *Process) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Call records one Spawn invocation.
type Call struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Spawner hands out fake processes and records every call.
type Spawner struct {
	mu    sync.Mutex
	calls []Call
	procs []*Process
	err   error
}

var _ process.Spawner = (*Spawner)(nil)

func (s *Spawner) Spawn(name string, args []string, dir string, env []string) (process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, Call{Name: name, Args: append([]string(nil), args...), Dir: dir, Env: env})
	p := NewProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	return p, nil
}

// SetError makes every later Spawn fail with err.
func (s *Spawner) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Last returns the most recently spawned process, or nil.
func (s *Spawner) Last() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}
