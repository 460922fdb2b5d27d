package api

import "github.com/mattjoyce/debugbridge/internal/orchestrator"

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ClientAttached bool   `json:"client_attached"`
	ProcessRunning bool   `json:"process_running"`
	DebugClient    bool   `json:"debug_client"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	orchestrator.Status
	ClientAttached bool   `json:"client_attached"`
	ClientID       string `json:"client_id,omitempty"`
}

// CommandResponse is returned by POST /command. Rejections are delivered to
// the attached client as error envelopes, not here.
type CommandResponse struct {
	Command string `json:"command"`
	Handled bool   `json:"handled"`
}
