// Package process owns the single child process of a debug session.
//
// A Session spawns at most one child at a time, streams its stdout and stderr as
// ordered events, and terminates it gracefully with a forced fallback:
//
//   - Stop sends SIGTERM and arms a one-shot escalation timer (default 2s)
//   - When the timer fires and the same child is still running, SIGKILL is sent once
//   - Signal failures (process already gone) are ignored
//
// Session methods are not safe for concurrent use. They are meant to be called
// from the single goroutine that consumes Events(); reader, waiter and timer
// goroutines only ever post to that channel.
package process
