package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/state"
)

const (
	maxEventLog     = 50
	pollInterval    = 5 * time.Second
	reconnectDelay  = 3 * time.Second
	refreshInterval = time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	session  SessionState
	runs     []state.RunRecord
	runTable table.Model
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner
	theme   Theme
	now     func() time.Time

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		runTable:  newRunsTable(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.pollStatus(0),
		m.pollRuns(),
		tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) pollStatus(after time.Duration) tea.Cmd {
	if after <= 0 {
		return func() tea.Msg { return fetchStatus(m.apiURL, m.apiKey) }
	}
	return tea.Tick(after, func(time.Time) tea.Msg { return fetchStatus(m.apiURL, m.apiKey) })
}

func (m Model) pollRuns() tea.Cmd {
	return func() tea.Msg { return fetchRuns(m.apiURL, m.apiKey) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.pollStatus(0), m.pollRuns())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runTable.SetWidth(m.width - 6)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(m.now())
		m.runTable.SetRows(runRows(m.runs, m.theme, m.now()))
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.spinner.OnEvent(m.now())
		m.session.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		if affectsSession(e.Type) {
			cmds = append(cmds, m.pollStatus(0))
		}
		if e.Type == events.SessionStarted || e.Type == events.SessionExited {
			cmds = append(cmds, m.pollRuns())
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.session.statusMsg = msg
		m.session.Connected = true
		m.session.LastCheck = m.now()
		m.lastError = ""
		return m, m.pollStatus(pollInterval)

	case runsMsg:
		m.runs = []state.RunRecord(msg)
		m.runTable.SetRows(runRows(m.runs, m.theme, m.now()))
		return m, nil

	case sseDisconnectedMsg:
		m.session.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent keeps reading the shared channel.
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, m.pollStatus(pollInterval)
	}

	var cmd tea.Cmd
	m.runTable, cmd = m.runTable.Update(msg)
	return m, cmd
}

func affectsSession(eventType string) bool {
	switch eventType {
	case events.SessionStarted, events.SessionExited,
		events.BridgeConnected, events.BridgeEnded,
		events.ClientAttached, events.ClientDetached:
		return true
	}
	return false
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	parts := []string{
		renderHeader(m.session, m.ticker, m.spinner, m.theme, m.width, m.now()),
		renderBridges(m.session, m.theme, m.width),
		renderRuns(m.runTable, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll Runs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
