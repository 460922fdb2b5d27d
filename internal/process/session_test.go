package process

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/debugbridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type fakeProcess struct {
	pid int

	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	mu         sync.Mutex
	terminated int
	killed     int
	exitCode   chan int
}

func newFakeProcess(pid int) *fakeProcess {
	or, ow := io.Pipe()
	er, ew := io.Pipe()
	return &fakeProcess{
		pid:      pid,
		stdoutR:  or,
		stdoutW:  ow,
		stderrR:  er,
		stderrW:  ew,
		exitCode: make(chan int, 1),
	}
}

func (p *fakeProcess) Pid() int          { return p.pid }
func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	return errors.New("process already finished")
}

func (p *fakeProcess) Wait() (int, error) {
	return <-p.exitCode, nil
}

// exit closes both streams and lets Wait return code.
func (p *fakeProcess) exit(code int) {
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()
	p.exitCode <- code
}

func (p *fakeProcess) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type spawnCall struct {
	name string
	args []string
	dir  string
	env  []string
}

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawnCall
	procs []*fakeProcess
	err   error
}

func (s *fakeSpawner) Spawn(name string, args []string, dir string, env []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.calls = append(s.calls, spawnCall{name: name, args: args, dir: dir, env: env})
	p := newFakeProcess(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	return p, nil
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestSession(sp Spawner, clk clock.Clock) *Session {
	return NewSession(sp,
		WithClock(clk),
		WithAmbientEnv(func() []string { return []string{"PATH=/usr/bin", "HOME=/root"} }),
	)
}

func TestSessionStartRejectsSecondChild(t *testing.T) {
	sp := &fakeSpawner{}
	s := newTestSession(sp, clock.NewMock())
	defer s.Close()

	child, err := s.Start(LaunchSpec{Command: "node", Args: []string{"app.js"}, Dir: "/ws"})
	require.NoError(t, err)
	assert.NotEmpty(t, child.ID)
	assert.Equal(t, 1000, child.Pid)
	assert.True(t, s.Running())

	_, err = s.Start(LaunchSpec{Command: "node", Args: []string{"other.js"}})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Len(t, sp.calls, 1, "no second process may be spawned")
}

func TestSessionStartMergesEnvironment(t *testing.T) {
	sp := &fakeSpawner{}
	s := newTestSession(sp, clock.NewMock())
	defer s.Close()

	_, err := s.Start(LaunchSpec{Command: "node", Dir: "/ws", Env: map[string]string{"PATH": "/opt/node/bin", "NODE_ENV": "dev"}})
	require.NoError(t, err)

	require.Len(t, sp.calls, 1)
	assert.Equal(t, "/ws", sp.calls[0].dir)
	assert.Equal(t, []string{"HOME=/root", "NODE_ENV=dev", "PATH=/opt/node/bin"}, sp.calls[0].env)
}

func TestSessionStartSpawnError(t *testing.T) {
	sp := &fakeSpawner{err: errors.New("exec: not found")}
	s := newTestSession(sp, clock.NewMock())
	defer s.Close()

	_, err := s.Start(LaunchSpec{Command: "missing"})
	require.Error(t, err)
	assert.False(t, s.Running())
}

func TestSessionDebugClientFollowsLaunch(t *testing.T) {
	sp := &fakeSpawner{}
	s := newTestSession(sp, clock.NewMock())
	defer s.Close()

	child, err := s.Start(LaunchSpec{Command: "node", Debug: true})
	require.NoError(t, err)
	assert.True(t, s.DebugClient())

	sp.procs[0].exit(0)
	ev := nextEvent(t, s)
	require.Equal(t, EventExit, ev.Kind)
	assert.True(t, s.HandleExit(child))
	assert.False(t, s.DebugClient(), "exit must clear the debug flag")
	assert.False(t, s.Running())
}

func TestSessionStreamsOutputThenExit(t *testing.T) {
	sp := &fakeSpawner{}
	s := newTestSession(sp, clock.NewMock())
	defer s.Close()

	child, err := s.Start(LaunchSpec{Command: "node", Args: []string{"app.js"}})
	require.NoError(t, err)
	proc := sp.procs[0]

	go func() {
		_, _ = proc.stdoutW.Write([]byte("hello\n"))
	}()
	ev := nextEvent(t, s)
	assert.Equal(t, EventData, ev.Kind)
	assert.Equal(t, StreamStdout, ev.Stream)
	assert.Equal(t, "hello\n", string(ev.Data))
	assert.Same(t, child, ev.Child)

	go func() {
		_, _ = proc.stderrW.Write([]byte("oops\n"))
	}()
	ev = nextEvent(t, s)
	assert.Equal(t, StreamStderr, ev.Stream)
	assert.Equal(t, "oops\n", string(ev.Data))

	proc.exit(3)
	ev = nextEvent(t, s)
	assert.Equal(t, EventExit, ev.Kind)
	assert.Equal(t, 3, ev.ExitCode)
	assert.True(t, s.HandleExit(ev.Child))
	assert.False(t, s.HandleExit(ev.Child), "a second exit for the same child is stale")
}

func TestSessionStopEscalatesOnce(t *testing.T) {
	sp := &fakeSpawner{}
	clk := clock.NewMock()
	s := newTestSession(sp, clk)
	defer s.Close()

	child, err := s.Start(LaunchSpec{Command: "node"})
	require.NoError(t, err)
	proc := sp.procs[0]

	assert.True(t, s.Stop())
	terminated, killed := proc.counts()
	assert.Equal(t, 1, terminated, "SIGTERM must be sent immediately")
	assert.Equal(t, 0, killed)

	clk.Add(DefaultKillGrace - time.Millisecond)
	expectNoEvent(t, s)

	clk.Add(time.Millisecond)
	ev := nextEvent(t, s)
	require.Equal(t, EventKillTimeout, ev.Kind)
	assert.True(t, s.Escalate(ev.Child))
	assert.False(t, s.Escalate(ev.Child), "SIGKILL must be sent exactly once")

	_, killed = proc.counts()
	assert.Equal(t, 1, killed)
	assert.Same(t, child, ev.Child)
}

func TestSessionStopThenExitCancelsEscalation(t *testing.T) {
	sp := &fakeSpawner{}
	clk := clock.NewMock()
	s := newTestSession(sp, clk)
	defer s.Close()

	_, err := s.Start(LaunchSpec{Command: "node"})
	require.NoError(t, err)
	proc := sp.procs[0]

	require.True(t, s.Stop())
	proc.exit(-1)
	ev := nextEvent(t, s)
	require.Equal(t, EventExit, ev.Kind)
	require.True(t, s.HandleExit(ev.Child))

	clk.Add(DefaultKillGrace)
	expectNoEvent(t, s)
	assert.False(t, s.Escalate(ev.Child), "escalation for an exited child is a no-op")

	_, killed := proc.counts()
	assert.Equal(t, 0, killed)
}

func TestSessionTerminateDoesNotEscalate(t *testing.T) {
	sp := &fakeSpawner{}
	clk := clock.NewMock()
	s := newTestSession(sp, clk)
	defer s.Close()

	_, err := s.Start(LaunchSpec{Command: "node"})
	require.NoError(t, err)
	proc := sp.procs[0]

	s.Terminate()
	terminated, killed := proc.counts()
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 0, killed)

	clk.Add(10 * DefaultKillGrace)
	expectNoEvent(t, s)
	_, killed = proc.counts()
	assert.Equal(t, 0, killed)
}

func TestSessionStopWithoutChild(t *testing.T) {
	s := newTestSession(&fakeSpawner{}, clock.NewMock())
	defer s.Close()

	assert.False(t, s.Stop())
	s.Terminate()
	s.KillNow()
}

func TestMergeEnv(t *testing.T) {
	ambient := []string{"A=1", "B=2", "MALFORMED", "=novalue", "C=x=y"}
	got := MergeEnv(map[string]string{"B": "over", "D": "4"}, ambient)
	assert.Equal(t, []string{"A=1", "B=over", "C=x=y", "D=4"}, got)

	assert.Empty(t, MergeEnv(nil, nil))
}

func TestHasDebugFlag(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"--debug", "app.js"}, true},
		{[]string{"app.js", "--debug"}, true},
		{[]string{"--debug-brk=5859", "app.js"}, false},
		{[]string{"--debugger", "app.js"}, false},
		{[]string{"x--debug"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasDebugFlag(tt.args), "args %v", tt.args)
	}
}
