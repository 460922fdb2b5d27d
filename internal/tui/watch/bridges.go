package watch

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

func renderBridges(s SessionState, theme Theme, width int) string {
	line := func(name string, active bool, port int) string {
		state := theme.Dim.Render("idle     ")
		if active {
			state = theme.StatusOK.Render("connected")
		}
		return fmt.Sprintf("  %-8s %s  port %d", name, state, port)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("DEBUGGERS"),
		line("node", s.NodeBridge, s.NodeDebugPort),
		line("chrome", s.ChromeBridge, s.ChromePort),
	)
	return theme.Border.Width(width - 4).Render(content)
}
