package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/state"
)

type eventMsg events.Event

// statusMsg mirrors GET /status.
type statusMsg struct {
	ProcessRunning bool   `json:"process_running"`
	DebugClient    bool   `json:"debug_client"`
	Launching      bool   `json:"launching"`
	RunID          string `json:"run_id"`
	Pid            int    `json:"pid"`
	NodeBridge     bool   `json:"node_bridge"`
	NodeDebugPort  int    `json:"node_debug_port"`
	ChromeBridge   bool   `json:"chrome_bridge"`
	ChromePort     int    `json:"chrome_debug_port"`
	ClientAttached bool   `json:"client_attached"`
	ClientID       string `json:"client_id"`
}

type runsMsg []state.RunRecord

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams /events into ch, resuming after lastID. It returns
// sseDisconnectedMsg when the stream ends.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: %s", resp.Status))
		}

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses event frames until the scanner stops.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(current.Data) > 0 {
				current.At = time.Now()
				ch <- current
			}
			current = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = []byte(line[6:])
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func getJSON(apiURL, apiKey, path string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fetchStatus(apiURL, apiKey string) tea.Msg {
	var st statusMsg
	if err := getJSON(apiURL, apiKey, "/status", &st); err != nil {
		return errMsg(err)
	}
	return st
}

func fetchRuns(apiURL, apiKey string) tea.Msg {
	var body struct {
		Runs []state.RunRecord `json:"runs"`
	}
	if err := getJSON(apiURL, apiKey, "/runs?limit="+strconv.Itoa(maxRunRows), &body); err != nil {
		return errMsg(err)
	}
	return runsMsg(body.Runs)
}
