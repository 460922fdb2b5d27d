package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/debugbridge/internal/state"
)

const maxRunRows = 10

func newRunsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Command", Width: 14},
			{Title: "File", Width: 24},
			{Title: "Run", Width: 8},
			{Title: "Exit", Width: 4},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(maxRunRows),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func runRows(runs []state.RunRecord, theme Theme, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}

		end := now
		if r.EndedAt != nil {
			end = *r.EndedAt
		}

		rows = append(rows, table.Row{
			runSymbol(r, theme),
			r.Command,
			r.File,
			shortID(r.ID),
			exit,
			formatDuration(end.Sub(r.StartedAt)),
		})
	}
	return rows
}

func runSymbol(r state.RunRecord, theme Theme) string {
	switch {
	case r.Status == state.StatusRunning:
		return theme.StatusRunning.Render("◉")
	case r.Status == state.StatusAbandoned:
		return theme.Dim.Render("◌")
	case r.ExitCode != nil && *r.ExitCode == 0:
		return theme.StatusOK.Render("●")
	default:
		return theme.StatusFailed.Render("∅")
	}
}

func renderRuns(t table.Model, theme Theme, width int) string {
	body := t.View()
	if strings.TrimSpace(body) == "" || len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No runs yet...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("RUNS"), body)
	return theme.Border.Width(width - 4).Render(content)
}
