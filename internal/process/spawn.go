package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// Process is a spawned child as seen by the Session.
type Process interface {
	Pid() int
	Stdout() io.Reader
	Stderr() io.Reader
	Terminate() error
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	// Processes killed by a signal report -1.
	Wait() (int, error)
}

// Spawner starts processes.
type Spawner interface {
	Spawn(name string, args []string, dir string, env []string) (Process, error)
}

// ExecSpawner spawns real OS processes with os/exec.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(name string, args []string, dir string, env []string) (Process, error) {
	// Don't use CommandContext - termination is managed by the Session.
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait for process: %w", err)
}

// MergeEnv overlays env on top of ambient (KEY=VALUE entries, as from
// os.Environ). Overlay keys win; ambient keys are added only when absent from
// the overlay. The result is sorted by key.
func MergeEnv(overlay map[string]string, ambient []string) []string {
	merged := make(map[string]string, len(overlay)+len(ambient))
	for _, kv := range ambient {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// HasDebugFlag reports whether args contain the standalone token "--debug".
// "--debug-brk=PORT" and similar prefixed forms do not count.
func HasDebugFlag(args []string) bool {
	for _, a := range args {
		if a == "--debug" {
			return true
		}
	}
	return false
}

// AmbientEnv returns the host environment.
func AmbientEnv() []string {
	return os.Environ()
}
