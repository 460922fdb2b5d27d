package orchestrator

import "github.com/mattjoyce/debugbridge/internal/protocol"

// Error codes reported through the Reporter. Clients match on these.
const (
	CodeChildRunning   = 1
	CodeFileMissing    = 2
	CodeCwdMissing     = 3
	CodeNotDebuggable  = 4
	CodeDebugRunning   = 5
	CodeNoDebugSession = 6
	CodeChromeRunning  = 7
	CodeSpawnFailed    = 8
)

const (
	msgChildRunning   = "Child process already running!"
	msgNotDebuggable  = "No debuggable application running"
	msgDebugRunning   = "Debug session already running"
	msgNoDebugSession = "No debug session running!"
	msgChromeRunning  = "Chrome debugger already running!"
)

//go:generate mockgen -destination=mocks/mock_reporter.go -package=mocks github.com/mattjoyce/debugbridge/internal/orchestrator Reporter

// Reporter receives precondition violations. The command that triggered the
// report is passed along so the host can echo it to the client.
type Reporter interface {
	Report(message string, code int, cmd *protocol.Command)
}

// Client is the single outbound connection. Send returns false when the
// envelope was dropped because no client is attached.
type Client interface {
	Attached() bool
	Send(env protocol.Envelope) bool
}
