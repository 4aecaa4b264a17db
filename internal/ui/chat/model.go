// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/tabchat/internal/session"
	"github.com/jeranaias/tabchat/internal/ui/styles"
)

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // Receiving a streaming reply
)

// Model is the Bubble Tea model for the chat view.
type Model struct {
	state State
	theme *styles.Theme

	width  int
	height int

	orch           *session.Orchestrator
	conversationID string

	// changes carries store notifications into the Bubble Tea loop.
	changes     chan session.Change
	unsubscribe func()

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	markdown *glamour.TermRenderer

	statusMsg string
	lastError string
}

// New creates the chat view for one conversation.
func New(orch *session.Orchestrator, conversationID string) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 0
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	// Markdown rendering is best-effort; a nil renderer falls back to
	// plain text.
	markdown, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		markdown = nil
	}

	m := &Model{
		state:          StateReady,
		theme:          styles.New(),
		orch:           orch,
		conversationID: conversationID,
		changes:        make(chan session.Change, 64),
		viewport:       viewport.New(80, 20),
		input:          input,
		spinner:        spin,
		markdown:       markdown,
	}
	m.unsubscribe = orch.Store().Subscribe(func(c session.Change) {
		if c.ConversationID != conversationID {
			return
		}
		// Never block the orchestrator; drop when the UI is behind. The
		// next change repaints the full conversation anyway.
		select {
		case m.changes <- c:
		default:
		}
	})
	return m
}

// Close releases the store subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}
