// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/session"
	"github.com/jeranaias/tabchat/internal/stream"
)

// Init starts the change pump and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.spinner.Tick, m.input.Focus())
}

// Update handles all incoming messages for the chat view.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshViewport()

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case storeChangeMsg:
		m.handleChange(msg.change)
		cmds = append(cmds, m.waitForChange())

	case sendResultMsg:
		if msg.err != nil {
			m.lastError = sendErrorText(msg.err)
		} else {
			m.lastError = ""
		}

	case remediationMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.statusMsg = msg.action + " applied"
			m.lastError = ""
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey routes key presses. Returns handled=false for keys that should
// fall through to the text input and viewport.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.Close()
		return tea.Quit, true

	case "enter":
		content := m.input.Value()
		if content == "" {
			return nil, true
		}
		if m.state == StateStreaming {
			m.lastError = "wait for the current reply to finish"
			return nil, true
		}
		m.input.Reset()
		m.lastError = ""
		return m.sendMessage(content), true

	case "ctrl+r":
		// Retry a failed send, or restart the stream after terminal error.
		if m.orch.Store().ConnState(m.conversationID) == stream.StateError {
			return m.reconnect(), true
		}
		return m.retryLast(), true

	case "ctrl+e":
		return m.extendContext(), true
	}
	return nil, false
}

// handleChange folds a store notification into the view.
func (m *Model) handleChange(change session.Change) {
	switch change.Type {
	case session.ChangeConversation:
		conv := m.orch.Store().Conversation(m.conversationID)
		if conv != nil && conv.IsStreaming() {
			m.state = StateStreaming
		} else {
			m.state = StateReady
		}
		m.refreshViewport()

	case session.ChangeConnection:
		if change.ConnState == stream.StateError {
			m.lastError = "connection lost, press ctrl+r to reconnect"
		}

	case session.ChangeWarning:
		switch change.Level {
		case budget.LevelCritical:
			m.statusMsg = "context nearly full, compress or start a new conversation"
		case budget.LevelWarning:
			if change.Usage.CanExtend {
				m.statusMsg = "context filling up, ctrl+e to extend"
			} else {
				m.statusMsg = "context filling up"
			}
		}
	}
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrSendRateLimited):
		return "sending too fast, try again in a moment"
	case errors.Is(err, session.ErrStreamBusy):
		return "a reply is still streaming"
	default:
		return err.Error()
	}
}
