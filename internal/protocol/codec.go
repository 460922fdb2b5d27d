package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// DecodeCommand reads a single command from r.
// Unknown fields are tolerated; a missing command name is an error.
func DecodeCommand(r io.Reader) (*Command, error) {
	var cmd Command
	if err := json.NewDecoder(r).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	if cmd.Name() == "" {
		return nil, fmt.Errorf("command missing required field: command")
	}
	return &cmd, nil
}

// UnmarshalCommand is DecodeCommand for an in-memory message.
func UnmarshalCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	if cmd.Name() == "" {
		return nil, fmt.Errorf("command missing required field: command")
	}
	return &cmd, nil
}

// MarshalEnvelope serializes env as a single-line JSON object.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b, nil
}
