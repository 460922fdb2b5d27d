package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/debugbridge/internal/events"
)

const shownEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, shownEvents)
	for i, e := range eventLog {
		if i >= shownEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := eventStyle(e, theme).Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

func eventStyle(e events.Event, theme Theme) lipgloss.Style {
	switch e.Type {
	case events.SessionStarted:
		return theme.StatusRunning
	case events.SessionExited:
		var data struct {
			ExitCode int `json:"exit_code"`
		}
		_ = json.Unmarshal(e.Data, &data)
		if data.ExitCode == 0 {
			return theme.StatusOK
		}
		return theme.StatusFailed
	case events.CommandRejected:
		return theme.StatusFailed
	case events.BridgeConnected, events.BridgeEnded:
		return theme.Debug
	case events.ClientAttached, events.ClientDetached:
		return theme.Highlight
	default:
		return theme.Dim
	}
}

// describeEvent picks the interesting fields out of an event payload.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["run_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(id)))
	}
	if id, ok := data["client_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(id)))
	}
	for _, key := range []string{"command", "file", "flavor"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if port, ok := data["port"].(float64); ok {
		parts = append(parts, fmt.Sprintf(":%d", int(port)))
	}
	if code, ok := data["exit_code"].(float64); ok {
		parts = append(parts, fmt.Sprintf("exit=%d", int(code)))
	}
	if msg, ok := data["message"].(string); ok {
		parts = append(parts, fmt.Sprintf("%q", msg))
	}
	if reason, ok := data["reason"].(string); ok {
		parts = append(parts, reason)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
