// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/tabchat/internal/session"
)

// storeChangeMsg wraps a session store notification for the update loop.
type storeChangeMsg struct {
	change session.Change
}

// sendResultMsg reports the outcome of SendMessage or Retry.
type sendResultMsg struct {
	err error
}

// remediationMsg reports the outcome of extend or compress.
type remediationMsg struct {
	action string
	err    error
}

// waitForChange blocks on the subscription channel and hands the next
// store notification to Update. Update re-arms it after every delivery.
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		change, ok := <-m.changes
		if !ok {
			return nil
		}
		return storeChangeMsg{change: change}
	}
}

// sendMessage dispatches the typed content to the orchestrator off the
// update loop so a slow backend never freezes the UI.
func (m *Model) sendMessage(content string) tea.Cmd {
	orch := m.orch
	convID := m.conversationID
	return func() tea.Msg {
		_, err := orch.SendMessage(context.Background(), convID, content)
		return sendResultMsg{err: err}
	}
}

// retryLast re-sends the most recent retryable user message.
func (m *Model) retryLast() tea.Cmd {
	orch := m.orch
	convID := m.conversationID
	return func() tea.Msg {
		conv := orch.Store().Conversation(convID)
		if conv == nil {
			return sendResultMsg{err: session.ErrConversationNotOpen}
		}
		var messageID string
		for i := len(conv.Messages) - 1; i >= 0; i-- {
			if conv.Messages[i].Retryable {
				messageID = conv.Messages[i].ID
				break
			}
		}
		if messageID == "" {
			return sendResultMsg{err: session.ErrNotRetryable}
		}
		return sendResultMsg{err: orch.Retry(context.Background(), convID, messageID)}
	}
}

// extendContext requests the larger context window for this conversation.
func (m *Model) extendContext() tea.Cmd {
	orch := m.orch
	convID := m.conversationID
	return func() tea.Msg {
		_, err := orch.ExtendContext(context.Background(), convID)
		return remediationMsg{action: "extend", err: err}
	}
}

// reconnect restarts the stream after a terminal connection error.
func (m *Model) reconnect() tea.Cmd {
	orch := m.orch
	convID := m.conversationID
	return func() tea.Msg {
		orch.Reconnect(context.Background(), convID)
		return nil
	}
}
