// ABOUTME: Bubbletea model for the timing-client status TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timingsrc/timingsrc-go/pkg/readystate"
)

// Model represents the TUI state for a client-side timing object.
type Model struct {
	// Connection
	connected  bool
	serverAddr string
	objectID   string
	readyState readystate.ReadyState

	// Role
	master bool

	// Motion
	position     float64
	velocity     float64
	acceleration float64

	// Clock
	skewMs int64

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	motionCtrl *MotionControl
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderMotion()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection, object and readystate status.
func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", m.serverAddr)
	}

	roleText := "slave"
	if m.master {
		roleText = "master"
	}

	stateIcon := "✗"
	switch m.readyState {
	case readystate.Open:
		stateIcon = "✓"
	case readystate.Connecting:
		stateIcon = "…"
	case readystate.Closing:
		stateIcon = "⚠"
	}

	return fmt.Sprintf(`┌─ Timing Client ──────────────────────────────────────┐
│ Status: %-45s │
│ Object: %-45s │
│ State:  %s %-42s │
│ Role:   %-45s │
├──────────────────────────────────────────────────────┤
`, connStatus, m.objectID, stateIcon, m.readyState.String(), roleText)
}

// renderMotion renders the current state vector and clock skew.
func (m Model) renderMotion() string {
	movingIcon := "⏸"
	if m.velocity != 0 || m.acceleration != 0 {
		movingIcon = "▶"
	}

	return fmt.Sprintf(`│ %s Position:     %-33.3f │
│   Velocity:     %-33.3f │
│   Acceleration: %-33.3f │
│   Clock skew:   %-28dms │
`, movingIcon, m.position, m.velocity, m.acceleration, m.skewMs)
}

// renderHelp renders keyboard shortcuts.
func (m Model) renderHelp() string {
	return `├──────────────────────────────────────────────────────┤
│ ↑/↓:Velocity  space:Pause  d:Debug  q:Quit          │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders debug information.
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   ReadyState: %-38s │
│   ClockSkew:  %+dms                                 │
`, m.readyState.String(), m.skewMs)
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.motionCtrl != nil {
			select {
			case m.motionCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.sendVelocityDelta(1)
	case "down":
		m.sendVelocityDelta(-1)
	case " ":
		m.sendVelocity(0)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVelocityDelta(delta float64) {
	m.sendVelocity(m.velocity + delta)
}

func (m Model) sendVelocity(v float64) {
	if m.motionCtrl == nil {
		return
	}
	select {
	case m.motionCtrl.Changes <- VelocityChangeMsg{Velocity: v}:
	default:
	}
}

// applyStatus updates model from a status message.
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerAddr != "" {
		m.serverAddr = msg.ServerAddr
	}
	if msg.ObjectID != "" {
		m.objectID = msg.ObjectID
	}
	if msg.Master != nil {
		m.master = *msg.Master
	}
	m.readyState = msg.ReadyState
	m.position = msg.Position
	m.velocity = msg.Velocity
	m.acceleration = msg.Acceleration
	m.skewMs = msg.SkewMs
}

// StatusMsg updates TUI state from the underlying timing object.
type StatusMsg struct {
	Connected    *bool
	ServerAddr   string
	ObjectID     string
	Master       *bool
	ReadyState   readystate.ReadyState
	Position     float64
	Velocity     float64
	Acceleration float64
	SkewMs       int64
}
