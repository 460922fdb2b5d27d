package protocol

import (
	"encoding/json"
	"strings"
)

// Envelope types sent to the client connection.
const (
	TypeNodeStart        = "node-start"
	TypeNodeData         = "node-data"
	TypeNodeExit         = "node-exit"
	TypeNodeDebug        = "node-debug"
	TypeNodeDebugReady   = "node-debug-ready"
	TypeChromeDebugReady = "chrome-debug-ready"
	TypeError            = "error"
)

// Command names, compared after Name normalizes case.
const (
	CmdRun             = "run"
	CmdRunDebug        = "rundebug"
	CmdRunDebugBrk     = "rundebugbrk"
	CmdRunDebugChrome  = "rundebugchrome"
	CmdDebugNode       = "debugnode"
	CmdDebugAttachNode = "debugattachnode"
	CmdKill            = "kill"

	// CmdRunDebugBrkAlias is the misspelling older IDE clients send.
	CmdRunDebugBrkAlias = "rundedugbrk"
)

// Stream names carried by node-data envelopes.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Command is an inbound command envelope from the client or the HTTP API.
type Command struct {
	Command string            `json:"command"`
	File    string            `json:"file,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`

	// Set by debug launches only; never read from the wire.
	PreArgs []string `json:"-"`
	Debug   bool     `json:"-"`
}

// Name returns the normalized (lower-cased, trimmed) command name.
func (c *Command) Name() string {
	return strings.ToLower(strings.TrimSpace(c.Command))
}

// Payload returns the body to forward to a debugger. A JSON string body is
// unwrapped so clients may send either a pre-serialized request or an object.
func (c *Command) Payload() []byte {
	if len(c.Body) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(c.Body, &s); err == nil {
		return []byte(s)
	}
	return []byte(c.Body)
}

// Envelope is a tagged outbound message. Only the fields relevant to Type are set.
type Envelope struct {
	Type    string          `json:"type"`
	Stream  string          `json:"stream,omitempty"`
	Data    *string         `json:"data,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    int             `json:"code,omitempty"`
	Command string          `json:"command,omitempty"`
}

func NodeStart() Envelope { return Envelope{Type: TypeNodeStart} }

func NodeExit() Envelope { return Envelope{Type: TypeNodeExit} }

func NodeDebugReady() Envelope { return Envelope{Type: TypeNodeDebugReady} }

func ChromeDebugReady() Envelope { return Envelope{Type: TypeChromeDebugReady} }

// NodeData wraps one chunk of child output.
func NodeData(stream string, chunk []byte) Envelope {
	data := strings.ToValidUTF8(string(chunk), "�")
	return Envelope{Type: TypeNodeData, Stream: stream, Data: &data}
}

// NodeDebug wraps a debugger message. Bodies that are not valid JSON are sent
// as a JSON string.
func NodeDebug(body []byte) Envelope {
	raw := json.RawMessage(body)
	if len(body) == 0 || !json.Valid(body) {
		encoded, _ := json.Marshal(string(body))
		raw = encoded
	}
	return Envelope{Type: TypeNodeDebug, Body: raw}
}

// Error is the envelope the host error sink sends for a rejected command.
func Error(message string, code int, command string) Envelope {
	return Envelope{Type: TypeError, Message: message, Code: code, Command: command}
}
