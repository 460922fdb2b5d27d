package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// SessionState is the latest /status poll.
type SessionState struct {
	statusMsg
	Connected bool
	LastCheck time.Time
}

func renderHeader(s SessionState, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	title := fmt.Sprintf(" DEBUGBRIDGE WATCH %s", tickerStr)
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	var child string
	switch {
	case !s.Connected:
		child = theme.StatusFailed.Render("CONNECTING")
	case s.Launching:
		child = theme.StatusRunning.Render("LAUNCHING")
	case s.ProcessRunning && s.DebugClient:
		child = theme.Debug.Render(fmt.Sprintf("DEBUGGING pid %d", s.Pid))
	case s.ProcessRunning:
		child = theme.StatusRunning.Render(fmt.Sprintf("RUNNING pid %d", s.Pid))
	default:
		child = theme.Dim.Render("IDLE")
	}

	client := theme.Dim.Render("none")
	if s.ClientAttached {
		client = theme.StatusOK.Render(shortID(s.ClientID))
	}

	statusLine := fmt.Sprintf(" Child: %s  Client: %s", child, client)

	lastEvent := "never"
	if !spinner.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(spinner.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statusLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
