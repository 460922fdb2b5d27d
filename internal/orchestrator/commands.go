package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mattjoyce/debugbridge/internal/bridge"
	"github.com/mattjoyce/debugbridge/internal/debugproxy"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/log"
	"github.com/mattjoyce/debugbridge/internal/process"
	"github.com/mattjoyce/debugbridge/internal/protocol"
)

func (o *Orchestrator) handle(cmd *protocol.Command) bool {
	switch cmd.Name() {
	case protocol.CmdRun:
		o.launch(cmd)
	case protocol.CmdRunDebug, protocol.CmdRunDebugBrk, protocol.CmdRunDebugBrkAlias:
		o.runDebug(cmd)
	case protocol.CmdRunDebugChrome:
		o.startChrome(cmd)
	case protocol.CmdDebugNode:
		o.debugNode(cmd)
	case protocol.CmdDebugAttachNode:
		if o.node.Active() {
			o.client.Send(protocol.NodeDebugReady())
		}
	case protocol.CmdKill:
		if o.session.Stop() {
			log.WithCommand(cmd.Name()).Info("terminating child", "run_id", o.session.Child().ID)
		}
	default:
		return false
	}
	return true
}

// launch validates cmd and spawns the child. It returns nil when nothing was
// started; the reason has already been reported.
func (o *Orchestrator) launch(cmd *protocol.Command) *process.Child {
	if o.session.Running() || o.launching {
		o.report(msgChildRunning, CodeChildRunning, cmd)
		return nil
	}

	if strings.TrimSpace(cmd.File) == "" || !o.resolver.Exists(cmd.File) {
		o.report("File does not exist: "+cmd.File, CodeFileMissing, cmd)
		return nil
	}
	if !o.resolver.DirExists(cmd.Cwd) {
		o.report("cwd does not exist: "+cmd.Cwd, CodeCwdMissing, cmd)
		return nil
	}

	spec, err := o.launchSpec(cmd)
	if err != nil {
		o.report(err.Error(), CodeSpawnFailed, cmd)
		return nil
	}

	child, err := o.session.Start(spec)
	if errors.Is(err, process.ErrAlreadyRunning) {
		o.report(msgChildRunning, CodeChildRunning, cmd)
		return nil
	}
	if err != nil {
		o.logger.Error("spawn failed", "command", cmd.Name(), "file", cmd.File, "error", err)
		o.report(fmt.Sprintf("Could not start %s: %v", cmd.File, err), CodeSpawnFailed, cmd)
		return nil
	}

	o.client.Send(protocol.NodeStart())

	run := Run{
		ID:        child.ID,
		Command:   cmd.Name(),
		File:      cmd.File,
		Cwd:       cmd.Cwd,
		Args:      spec.Args,
		Debug:     spec.Debug,
		Pid:       child.Pid,
		StartedAt: child.StartedAt,
	}
	if cmd.Debug {
		run.DebugPort = o.nodePort
	}
	o.publisher.Publish(events.SessionStarted, map[string]any{
		"run_id":  run.ID,
		"pid":     run.Pid,
		"command": run.Command,
		"file":    run.File,
		"debug":   run.Debug,
	})
	o.record(func(ctx context.Context) {
		if err := o.recorder.RecordStart(ctx, run); err != nil {
			o.logger.Warn("record run start", "run_id", run.ID, "error", err)
		}
	})
	return child
}

// launchSpec picks the interpreter for .js targets; anything else is run as
// an executable and is never debuggable.
func (o *Orchestrator) launchSpec(cmd *protocol.Command) (process.LaunchSpec, error) {
	file, err := o.resolver.Resolve(cmd.File)
	if err != nil {
		return process.LaunchSpec{}, fmt.Errorf("resolve file %s: %w", cmd.File, err)
	}
	dir, err := o.resolver.Resolve(cmd.Cwd)
	if err != nil {
		return process.LaunchSpec{}, fmt.Errorf("resolve cwd %s: %w", cmd.Cwd, err)
	}

	userArgs := append([]string(nil), cmd.Args...)
	if path.Ext(cmd.File) == ".js" {
		args := make([]string, 0, len(cmd.PreArgs)+1+len(userArgs))
		args = append(args, cmd.PreArgs...)
		args = append(args, file)
		args = append(args, userArgs...)
		return process.LaunchSpec{
			Command: o.cfg.NodeCmd,
			Args:    args,
			Dir:     dir,
			Env:     cmd.Env,
			Debug:   cmd.Debug || process.HasDebugFlag(args),
		}, nil
	}

	return process.LaunchSpec{
		Command: file,
		Args:    userArgs,
		Dir:     dir,
		Env:     cmd.Env,
	}, nil
}

// runDebug searches for a free debugger port off the loop. Further launches
// are refused until the search resolves.
func (o *Orchestrator) runDebug(cmd *protocol.Command) {
	if o.session.Running() || o.launching {
		o.report(msgChildRunning, CodeChildRunning, cmd)
		return
	}
	o.launching = true

	ctx, start, host := o.ctx, o.nodePort, o.cfg.DebugHost
	go func() {
		port, err := o.ports.FindFreePort(ctx, start, host)
		o.post(portProbed{cmd: cmd, port: port, err: err})
	}()
}

func (o *Orchestrator) debugPortFound(ev portProbed) {
	o.launching = false
	if ev.err != nil {
		o.logger.Warn("debug port search abandoned", "error", ev.err)
		return
	}

	o.nodePort = ev.port
	cmd := *ev.cmd
	cmd.PreArgs = []string{fmt.Sprintf("--debug-brk=%d", ev.port)}
	cmd.Debug = true

	child := o.launch(&cmd)
	if child == nil {
		return
	}
	o.clock.AfterFunc(o.cfg.AttachDelay, func() {
		o.post(attachDue{child: child, cmd: &cmd})
	})
}

// attachNode starts the process debugger bridge for the launch that
// scheduled it. A newer child means the timer is stale.
func (o *Orchestrator) attachNode(ev attachDue) {
	current := o.session.Child()
	if current != nil && current != ev.child {
		o.logger.Debug("stale attach timer dropped", "run_id", ev.child.ID)
		return
	}

	err := o.node.Start(o.ctx, o.nodePort)
	switch {
	case errors.Is(err, bridge.ErrNotDebuggable):
		o.report(msgNotDebuggable, CodeNotDebuggable, ev.cmd)
	case errors.Is(err, bridge.ErrAlreadyRunning):
		o.report(msgDebugRunning, CodeDebugRunning, ev.cmd)
	case err != nil:
		o.logger.Error("start node bridge", "error", err)
	}
}

func (o *Orchestrator) startChrome(cmd *protocol.Command) {
	err := o.chrome.Start(o.ctx, o.cfg.ChromeDebugPort)
	if errors.Is(err, bridge.ErrAlreadyRunning) {
		o.report(msgChromeRunning, CodeChromeRunning, cmd)
		return
	}
	if err != nil {
		o.logger.Error("start chrome bridge", "error", err)
	}
}

func (o *Orchestrator) debugNode(cmd *protocol.Command) {
	if !o.node.Active() {
		o.report(msgNoDebugSession, CodeNoDebugSession, cmd)
		return
	}
	if err := o.node.Send(cmd.Payload()); err != nil {
		o.logger.Warn("relay to debugger failed", "error", err)
	}
}

func (o *Orchestrator) onProcessEvent(ev process.Event) {
	if ev.Child != o.session.Child() {
		o.logger.Debug("stale process event dropped", "kind", ev.Kind.String(), "run_id", ev.Child.ID)
		return
	}

	switch ev.Kind {
	case process.EventData:
		if !o.client.Attached() {
			o.session.Terminate()
			return
		}
		o.client.Send(protocol.NodeData(ev.Stream, ev.Data))

	case process.EventKillTimeout:
		o.session.Escalate(ev.Child)

	case process.EventExit:
		o.session.HandleExit(ev.Child)
		o.node.Drop()
		o.client.Send(protocol.NodeExit())

		logger := log.WithRun(ev.Child.ID)
		logger.Info("child exited", "pid", ev.Child.Pid, "exit_code", ev.ExitCode)
		if ev.Err != nil {
			logger.Debug("wait error", "error", ev.Err)
		}

		id, code, at := ev.Child.ID, ev.ExitCode, o.clock.Now()
		o.publisher.Publish(events.SessionExited, map[string]any{
			"run_id":    id,
			"exit_code": code,
			"uptime_ms": at.Sub(ev.Child.StartedAt).Milliseconds(),
		})
		o.record(func(ctx context.Context) {
			if err := o.recorder.RecordExit(ctx, id, code, at); err != nil {
				o.logger.Warn("record run exit", "run_id", id, "error", err)
			}
		})
	}
}

func (o *Orchestrator) onBridgeEvent(ev bridge.Event) {
	b := o.node
	if ev.Flavor == o.chrome.Flavor() {
		b = o.chrome
	}
	if !b.IsCurrent(ev.Proxy) {
		o.logger.Debug("stale proxy event dropped", "flavor", string(ev.Flavor), "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case debugproxy.EventConnection:
		if b == o.node {
			o.client.Send(protocol.NodeDebugReady())
		} else {
			o.client.Send(protocol.ChromeDebugReady())
		}
		o.publisher.Publish(events.BridgeConnected, map[string]any{"flavor": string(ev.Flavor), "port": b.Port()})

	case debugproxy.EventMessage:
		if b == o.node {
			o.client.Send(protocol.NodeDebug(ev.Body))
		}

	case debugproxy.EventEnd:
		port := b.Port()
		b.Release(ev.Proxy)
		attrs := map[string]any{"flavor": string(ev.Flavor), "port": port}
		if ev.Err != nil {
			attrs["error"] = ev.Err.Error()
		}
		o.publisher.Publish(events.BridgeEnded, attrs)
	}
}
