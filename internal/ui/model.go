// ABOUTME: Bubbletea model for the conversation TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

const maxHistory = 8

// Model represents the TUI state
type Model struct {
	// Connection
	connState  string
	serverName string

	// Avatar
	avatarState string
	turnID      string

	// Transcript
	history []string // finalized lines, newest last
	partial string   // in-progress assistant utterance

	// Buffer
	targetMs  int
	quality   string
	underruns int

	// Input
	input string

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	controls *Controls
}

// Controls carries user intent out of the TUI event loop.
type Controls struct {
	Texts      chan string
	Interrupts chan struct{}
	Quit       chan struct{}
}

// NewControls creates the control channels.
func NewControls() *Controls {
	return &Controls{
		Texts:      make(chan string, 10),
		Interrupts: make(chan struct{}, 1),
		Quit:       make(chan struct{}, 1),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
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

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderTranscript()
	s += m.renderBuffer()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderInput()
	s += m.renderHelp()

	return s
}

// renderHeader renders connection and avatar status
func (m Model) renderHeader() string {
	connStatus := m.connState
	if connStatus == "" {
		connStatus = "disconnected"
	}
	if m.serverName != "" && m.connState == "connected" {
		connStatus = fmt.Sprintf("connected to %s", m.serverName)
	}

	avatar := m.avatarState
	if avatar == "" {
		avatar = "idle"
	}

	return fmt.Sprintf(`┌─ Converse ───────────────────────────────────────────┐
│ Status: %-45s │
│ Avatar: %-45s │
├──────────────────────────────────────────────────────┤
`, truncate(connStatus, 45), truncate(avatar, 45))
}

// renderTranscript renders the conversation history and live partial
func (m Model) renderTranscript() string {
	if len(m.history) == 0 && m.partial == "" {
		return "│ (no conversation yet)                                │\n"
	}

	s := ""
	for _, line := range m.history {
		s += fmt.Sprintf("│ %-52s │\n", truncate(line, 52))
	}
	if m.partial != "" {
		s += fmt.Sprintf("│ %-52s │\n", truncate("… "+m.partial, 52))
	}
	return s
}

// renderBuffer renders playback buffer health
func (m Model) renderBuffer() string {
	quality := m.quality
	if quality == "" {
		quality = "unknown"
	}
	return fmt.Sprintf("├──────────────────────────────────────────────────────┤\n"+
		"│ Buffer: %dms  Network: %-10s Underruns: %-6d │\n",
		m.targetMs, quality, m.underruns)
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Turn: %-44s │
`, truncate(m.turnID, 44))
}

// renderInput renders the text entry line
func (m Model) renderInput() string {
	return fmt.Sprintf("├──────────────────────────────────────────────────────┤\n"+
		"│ > %-50s │\n", truncate(m.input, 50))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ enter:Send  esc:Interrupt  ctrl+d:Debug  ctrl+c:Quit │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.controls != nil {
			select {
			case m.controls.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "esc":
		if m.controls != nil {
			select {
			case m.controls.Interrupts <- struct{}{}:
			default:
			}
		}
	case "enter":
		text := strings.TrimSpace(m.input)
		m.input = ""
		if text != "" && m.controls != nil {
			select {
			case m.controls.Texts <- text:
			default:
			}
			m.history = appendHistory(m.history, "you: "+text)
		}
	case "ctrl+d":
		m.showDebug = !m.showDebug
	case "backspace":
		if len(m.input) > 0 {
			runes := []rune(m.input)
			m.input = string(runes[:len(runes)-1])
		}
	default:
		if msg.Type == tea.KeyRunes {
			m.input += string(msg.Runes)
		} else if msg.Type == tea.KeySpace {
			m.input += " "
		}
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.ConnState != "" {
		m.connState = msg.ConnState
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.AvatarState != "" {
		m.avatarState = msg.AvatarState
	}
	if msg.TurnID != "" {
		m.turnID = msg.TurnID
	}
	if msg.Partial != "" {
		m.partial = msg.Partial
	}
	if msg.Final != "" {
		m.history = appendHistory(m.history, "avatar: "+msg.Final)
		m.partial = ""
	}
	if msg.TargetMs != 0 {
		m.targetMs = msg.TargetMs
		m.quality = msg.Quality
		m.underruns = msg.Underruns
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	ConnState   string
	ServerName  string
	AvatarState string
	TurnID      string
	Partial     string
	Final       string
	TargetMs    int
	Quality     string
	Underruns   int
}

// Utility functions
func appendHistory(history []string, line string) []string {
	history = append(history, line)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	return history
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
