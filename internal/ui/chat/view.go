// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/stream"
)

const (
	headerHeight = 2
	footerHeight = 3
	minViewportH = 3
)

// layout recomputes component sizes after a resize.
func (m *Model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	vh := m.height - headerHeight - footerHeight
	if vh < minViewportH {
		vh = minViewportH
	}
	m.viewport.Width = m.width
	m.viewport.Height = vh
	m.input.Width = m.width - 4
}

// refreshViewport re-renders the conversation transcript. Rendering the
// whole transcript per change keeps the logic simple; conversations are
// capped well below the point where this matters.
func (m *Model) refreshViewport() {
	conv := m.orch.Store().Conversation(m.conversationID)
	if conv == nil {
		m.viewport.SetContent("")
		return
	}

	atBottom := m.viewport.AtBottom()

	var b strings.Builder
	for _, msg := range conv.Messages {
		m.renderMessage(&b, msg)
	}
	if conv.InFlight != nil {
		m.renderMessage(&b, conv.InFlight)
	}

	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(b *strings.Builder, msg *model.Message) {
	switch msg.Role {
	case model.RoleUser:
		b.WriteString(m.theme.UserLabel.Render("you"))
		if msg.Retryable {
			b.WriteString(" " + m.theme.Retryable.Render("(failed, ctrl+r to retry)"))
		}
		b.WriteString("\n")
		b.WriteString(m.theme.MessageBody.Render(msg.DisplayContent()))
	case model.RoleAssistant:
		label := "assistant"
		if !msg.Complete {
			label = "assistant " + m.spinner.View()
		}
		b.WriteString(m.theme.AssistantLabel.Render(label))
		b.WriteString("\n")
		b.WriteString(m.renderAssistant(msg))
	}
	b.WriteString("\n\n")
}

// renderAssistant renders completed assistant messages as markdown.
// In-flight content stays plain so partial fences never corrupt the view.
func (m *Model) renderAssistant(msg *model.Message) string {
	content := msg.DisplayContent()
	if !msg.Complete || m.markdown == nil {
		return content
	}
	rendered, err := m.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// View composes the full frame: header, transcript, input, status line.
func (m *Model) View() string {
	if m.width <= 0 {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.theme.InputPrompt.Render("> "))
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

func (m *Model) headerView() string {
	conv := m.orch.Store().Conversation(m.conversationID)
	title := "tabchat"
	modelID := ""
	if conv != nil {
		title = conv.DisplayTitle()
		modelID = conv.Model
	}

	left := m.theme.HeaderTitle.Render(runewidth.Truncate(title, m.width/2, "..."))
	right := m.theme.HeaderMeta.Render(modelID) + "  " + m.connBadge() + "  " + m.usageView()

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) connBadge() string {
	switch m.orch.Store().ConnState(m.conversationID) {
	case stream.StateConnected:
		return m.theme.ConnConnected.Render("● connected")
	case stream.StateConnecting:
		return m.theme.ConnReconnecting.Render("● connecting")
	case stream.StateReconnecting:
		return m.theme.ConnReconnecting.Render("● reconnecting")
	case stream.StateError:
		return m.theme.ConnError.Render("● error")
	default:
		return m.theme.HeaderMeta.Render("● offline")
	}
}

func (m *Model) usageView() string {
	u := m.orch.Store().Usage(m.conversationID)
	if u.MaxTokens == 0 {
		return ""
	}
	text := fmt.Sprintf("%d/%d (%.0f%%)", u.CurrentTokens, u.MaxTokens, u.Percent())
	if u.IsExtended {
		text += " ext"
	}
	switch u.WarningLevel() {
	case budget.LevelCritical:
		return m.theme.UsageCritical.Render(text)
	case budget.LevelWarning:
		return m.theme.UsageWarning.Render(text)
	default:
		return m.theme.UsageOK.Render(text)
	}
}

func (m *Model) statusView() string {
	if m.lastError != "" {
		return m.theme.StatusError.Render(m.lastError)
	}
	if m.statusMsg != "" {
		return m.theme.StatusLine.Render(m.statusMsg)
	}
	return m.theme.StatusLine.Render("enter send · ctrl+r retry · ctrl+e extend · ctrl+c quit")
}
