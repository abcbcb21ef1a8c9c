// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the conversation UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		connState:   "disconnected",
		avatarState: "idle",
		controls:    controls,
	}
}

// Run starts the TUI
func Run(controls *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls), tea.WithAltScreen())
	return p, nil
}
