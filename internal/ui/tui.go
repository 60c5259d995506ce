// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the timing-client UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VelocityChangeMsg requests a new velocity from the user.
type VelocityChangeMsg struct {
	Velocity float64
}

// QuitMsg signals the user asked to quit.
type QuitMsg struct{}

// MotionControl holds channels for user-driven motion control.
type MotionControl struct {
	Changes chan VelocityChangeMsg
	Quit    chan QuitMsg
}

// NewMotionControl creates a new motion control handler.
func NewMotionControl() *MotionControl {
	return &MotionControl{
		Changes: make(chan VelocityChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model.
func NewModel(motionCtrl *MotionControl) Model {
	return Model{
		readyState: 0,
		motionCtrl: motionCtrl,
	}
}

// Run builds the TUI program without starting it; the caller starts it with
// the returned program's Run method.
func Run(motionCtrl *MotionControl) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(motionCtrl), tea.WithAltScreen())
	return p, nil
}
