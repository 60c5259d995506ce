// ABOUTME: Server TUI for displaying hosted timing objects and their motion
// ABOUTME: Real-time status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI.
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{}
}

// ServerStatus holds server state for TUI rendering.
type ServerStatus struct {
	Addr    string
	Delta   int64
	Uptime  time.Duration
	Objects []ObjectInfo
}

// ObjectInfo holds one hosted timing object's motion and subscriber count
// for display.
type ObjectInfo struct {
	ID           string
	Position     float64
	Velocity     float64
	Acceleration float64
	Subscribers  int
}

type tuiModel struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	objectHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Timing Server"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Listening: "))
	b.WriteString(valueStyle.Render(m.status.Addr))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Delta: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%dms", m.status.Delta)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	uptime := time.Since(m.startTime).Round(time.Second)
	b.WriteString(valueStyle.Render(uptime.String()))
	b.WriteString("\n\n")

	b.WriteString(objectHeaderStyle.Render(fmt.Sprintf("Timing Objects (%d)", len(m.status.Objects))))
	b.WriteString("\n\n")

	if len(m.status.Objects) == 0 {
		b.WriteString(valueStyle.Render("  none hosted yet"))
		b.WriteString("\n")
	} else {
		for _, obj := range m.status.Objects {
			b.WriteString(fmt.Sprintf("  %s", obj.ID))
			b.WriteString(valueStyle.Render(fmt.Sprintf(
				"  p=%.2f v=%.2f a=%.2f  (%d sub)",
				obj.Position, obj.Velocity, obj.Acceleration, obj.Subscribers,
			)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI.
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start starts the TUI, blocking until the user quits.
func (t *ServerTUI) Start(addr string, delta int64) error {
	m := tuiModel{
		status: ServerStatus{
			Addr:    addr,
			Delta:   delta,
			Objects: []ObjectInfo{},
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			if t.program != nil {
				t.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI.
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI.
func (t *ServerTUI) Stop() {
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan returns the channel that signals when the user wants to quit.
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
