package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/offlinefirst/stepcapture/pkg/feed"
	"github.com/offlinefirst/stepcapture/pkg/lifecycle"
	"github.com/offlinefirst/stepcapture/pkg/tutorial"
)

func newWatchCommand() command {
	return command{
		name:        "watch",
		description: "Follow a running server's step feed in a terminal UI",
		configure: func(fs *flag.FlagSet) {
			fs.String("addr", "", "Server address (default: server.addr)")
		},
		run: runWatch,
	}
}

// runProgram is declared for swapping in tests.
var runProgram = func(m tea.Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func runWatch(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	addr := stringFlag(fs, "addr")
	if addr == "" {
		addr = ctx.Config.Server.Addr
	}
	conn, err := dialFeed(context.Background(), addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx.Logger.Debug("watching step feed", "addr", addr)
	return runProgram(newWatchModel(addr, conn))
}

// dialFeed opens the websocket step feed of the server at addr.
func dialFeed(ctx context.Context, addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: strings.TrimPrefix(addr, "http://"), Path: "/v1/steps/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	return conn, nil
}

// -- messages --

type noteMsg feed.Notification
type feedClosedMsg struct{ err error }
type controlMsg struct {
	action string
	err    error
}

// -- model --

type feedReader interface {
	ReadJSON(v any) error
}

type watchModel struct {
	addr   string
	conn   feedReader
	client *http.Client

	width  int
	height int

	sessionID string
	title     string
	state     lifecycle.State
	steps     []tutorial.Step

	flash  string
	closed error
}

func newWatchModel(addr string, conn feedReader) watchModel {
	return watchModel{
		addr:   addr,
		conn:   conn,
		client: &http.Client{Timeout: 30 * time.Second},
		state:  lifecycle.Idle,
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.readCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case noteMsg:
		m.apply(feed.Notification(msg))
		return m, m.readCmd()
	case feedClosedMsg:
		m.closed = msg.err
		if m.closed == nil {
			m.closed = io.EOF
		}
		return m, nil
	case controlMsg:
		if msg.err != nil {
			m.flash = msg.action + " failed: " + msg.err.Error()
		} else {
			m.flash = msg.action + " sent"
		}
		return m, nil
	}
	return m, nil
}

func (m *watchModel) apply(n feed.Notification) {
	if n.SessionID != "" && n.SessionID != m.sessionID {
		m.sessionID = n.SessionID
		m.steps = nil
	}
	if n.Title != "" {
		m.title = n.Title
	}
	m.state = n.State
	if n.Kind == feed.KindStep && n.Step != nil {
		m.steps = append(m.steps, *n.Step)
	}
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "p":
		return m, m.controlCmd("pause")
	case "r":
		return m, m.controlCmd("resume")
	case "s":
		return m, m.controlCmd("stop")
	}
	return m, nil
}

// -- commands --

func (m watchModel) readCmd() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		var n feed.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return feedClosedMsg{}
			}
			return feedClosedMsg{err: err}
		}
		return noteMsg(n)
	}
}

func (m watchModel) controlCmd(action string) tea.Cmd {
	client := m.client
	target := "http://" + strings.TrimPrefix(m.addr, "http://") + "/v1/session/" + action
	return func() tea.Msg {
		resp, err := client.Post(target, "application/json", bytes.NewReader(nil))
		if err != nil {
			return controlMsg{action: action, err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body.Error == "" {
				body.Error = resp.Status
			}
			return controlMsg{action: action, err: fmt.Errorf("%s", body.Error)}
		}
		return controlMsg{action: action}
	}
}

// -- view --

func (m watchModel) View() string {
	var b strings.Builder
	title := m.title
	if title == "" {
		title = "no session"
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", headerStyle.Render("stepcapture "+m.addr), title, stateStyle(m.state).Render(string(m.state)))
	fmt.Fprintf(&b, "%s\n\n", dimStyle.Render(fmt.Sprintf("%d steps", len(m.steps))))

	steps := m.steps
	if limit := m.height - 6; limit > 0 && len(steps) > limit {
		steps = steps[len(steps)-limit:]
	}
	for _, step := range steps {
		b.WriteString(stepLine(step))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	if m.closed != nil {
		b.WriteString(errorStyle.Render("feed closed: "+m.closed.Error()) + "\n")
	}
	if m.flash != "" {
		b.WriteString(transStyle.Render(m.flash) + "\n")
	}
	b.WriteString(dimStyle.Render("p pause · r resume · s stop · q quit"))
	return b.String()
}
