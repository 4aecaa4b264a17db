// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the chat view for the tabchat TUI.

The chat package implements the terminal conversation interface using the
Bubble Tea framework. It renders one conversation at a time and drives the
session orchestrator in response to user input.

# Key Components

## Model (model.go)

The Model struct is the Bubble Tea model for the view. It owns the
viewport, the text input and the spinner, and holds a subscription to the
session store. Store changes arrive on a buffered channel and are pumped
into the update loop one at a time.

## Update Loop (update.go)

Handles keyboard input and store notifications:
  - enter sends the typed message through the orchestrator
  - ctrl+r retries the last failed send, or reconnects after a terminal
    connection error
  - ctrl+e requests the extended context window
  - ctrl+c quits

Sends, retries and remediation all run as commands off the update loop so
a slow backend never freezes the interface.

## View Rendering (view.go)

Renders the complete frame: a header with the conversation title, model
name, connection badge and context usage, the scrolling transcript, the
input line and a status line. Completed assistant messages are rendered
as markdown through Glamour; in-flight content stays plain text so partial
code fences never corrupt the view.

# Usage

	view := chat.New(orchestrator, conversationID)
	p := tea.NewProgram(view, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
*/
package chat
