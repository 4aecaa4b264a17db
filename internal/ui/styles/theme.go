// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for the tabchat TUI.
package styles

import "github.com/charmbracelet/lipgloss"

// Theme holds the styled components for the application. Adaptive colors
// keep it legible on both light and dark terminals.
type Theme struct {
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderMeta  lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Retryable      lipgloss.Style

	InputPrompt lipgloss.Style
	StatusLine  lipgloss.Style
	StatusError lipgloss.Style

	ConnConnected    lipgloss.Style
	ConnReconnecting lipgloss.Style
	ConnError        lipgloss.Style

	UsageOK       lipgloss.Style
	UsageWarning  lipgloss.Style
	UsageCritical lipgloss.Style
}

// New creates the default theme.
func New() *Theme {
	subtle := lipgloss.AdaptiveColor{Light: "#6c6c6c", Dark: "#8a8a8a"}
	accent := lipgloss.AdaptiveColor{Light: "#005faf", Dark: "#5fafff"}
	green := lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5fd75f"}
	yellow := lipgloss.AdaptiveColor{Light: "#af8700", Dark: "#ffd75f"}
	red := lipgloss.AdaptiveColor{Light: "#d70000", Dark: "#ff5f5f"}

	return &Theme{
		Header:      lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(subtle),
		HeaderTitle: lipgloss.NewStyle().Bold(true).Foreground(accent),
		HeaderMeta:  lipgloss.NewStyle().Foreground(subtle),

		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(accent),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(green),
		MessageBody:    lipgloss.NewStyle(),
		Retryable:      lipgloss.NewStyle().Foreground(red),

		InputPrompt: lipgloss.NewStyle().Bold(true).Foreground(accent),
		StatusLine:  lipgloss.NewStyle().Foreground(subtle),
		StatusError: lipgloss.NewStyle().Foreground(red),

		ConnConnected:    lipgloss.NewStyle().Foreground(green),
		ConnReconnecting: lipgloss.NewStyle().Foreground(yellow),
		ConnError:        lipgloss.NewStyle().Foreground(red),

		UsageOK:       lipgloss.NewStyle().Foreground(subtle),
		UsageWarning:  lipgloss.NewStyle().Foreground(yellow).Bold(true),
		UsageCritical: lipgloss.NewStyle().Foreground(red).Bold(true),
	}
}
