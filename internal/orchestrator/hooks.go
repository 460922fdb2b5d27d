package orchestrator

import (
	"context"
	"time"
)

// Publisher receives operator telemetry. events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Run describes one launch for the run log.
type Run struct {
	ID        string
	Command   string
	File      string
	Cwd       string
	Args      []string
	Debug     bool
	DebugPort int
	Pid       int
	StartedAt time.Time
}

// Recorder persists launches and exits. Calls are made in order from a
// single goroutine, off the orchestrator loop.
type Recorder interface {
	RecordStart(ctx context.Context, run Run) error
	RecordExit(ctx context.Context, id string, exitCode int, endedAt time.Time) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

type nopRecorder struct{}

func (nopRecorder) RecordStart(context.Context, Run) error { return nil }

func (nopRecorder) RecordExit(context.Context, string, int, time.Time) error { return nil }
