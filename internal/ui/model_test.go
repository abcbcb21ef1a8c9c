// ABOUTME: Tests for the TUI model
// ABOUTME: Tests status application, key handling and transcript history
package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestApplyStatusConnection(t *testing.T) {
	m := NewModel(nil)

	m.applyStatus(StatusMsg{ConnState: "connected", ServerName: "lab"})

	if m.connState != "connected" {
		t.Errorf("conn state: got %s", m.connState)
	}
	if m.serverName != "lab" {
		t.Errorf("server name: got %s", m.serverName)
	}
}

func TestApplyStatusTranscript(t *testing.T) {
	m := NewModel(nil)

	m.applyStatus(StatusMsg{Partial: "hel"})
	if m.partial != "hel" {
		t.Errorf("partial: got %s", m.partial)
	}

	m.applyStatus(StatusMsg{Final: "hello there"})
	if m.partial != "" {
		t.Error("final should clear the partial")
	}
	if len(m.history) != 1 || m.history[0] != "avatar: hello there" {
		t.Errorf("history: got %v", m.history)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewModel(nil)

	for i := 0; i < maxHistory+5; i++ {
		m.applyStatus(StatusMsg{Final: "line"})
	}

	if len(m.history) != maxHistory {
		t.Errorf("history length: got %d, want %d", len(m.history), maxHistory)
	}
}

func TestTypingBuildsInput(t *testing.T) {
	m := NewModel(NewControls())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hi")})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("!")})
	m = next.(Model)

	if m.input != "hi!" {
		t.Errorf("input: got %q, want %q", m.input, "hi!")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = next.(Model)
	if m.input != "hi" {
		t.Errorf("input after backspace: got %q", m.input)
	}
}

func TestEnterSendsText(t *testing.T) {
	controls := NewControls()
	m := NewModel(controls)
	m.input = "  hello  "

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	select {
	case got := <-controls.Texts:
		if got != "hello" {
			t.Errorf("sent text: got %q, want %q", got, "hello")
		}
	default:
		t.Fatal("no text sent on enter")
	}
	if m.input != "" {
		t.Error("input not cleared after send")
	}
	if len(m.history) != 1 || !strings.HasPrefix(m.history[0], "you: ") {
		t.Errorf("history: got %v", m.history)
	}
}

func TestEscRequestsInterrupt(t *testing.T) {
	controls := NewControls()
	m := NewModel(controls)

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	select {
	case <-controls.Interrupts:
	default:
		t.Fatal("no interrupt requested on esc")
	}
}

func TestCtrlCQuits(t *testing.T) {
	controls := NewControls()
	m := NewModel(controls)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	if cmd == nil {
		t.Fatal("ctrl+c should produce a quit command")
	}
	select {
	case <-controls.Quit:
	default:
		t.Fatal("quit not signalled")
	}
}

func TestViewRendersWithoutSize(t *testing.T) {
	m := NewModel(nil)

	if got := m.View(); got != "Loading..." {
		t.Errorf("zero-size view: got %q", got)
	}
}

func TestViewShowsBufferStats(t *testing.T) {
	m := NewModel(nil)
	m.width = 80
	m.applyStatus(StatusMsg{TargetMs: 150, Quality: "good", Underruns: 2})

	view := m.View()
	if !strings.Contains(view, "150ms") {
		t.Error("view missing buffer target")
	}
	if !strings.Contains(view, "good") {
		t.Error("view missing network quality")
	}
}
