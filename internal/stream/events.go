// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// State describes the lifecycle of a per-conversation connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateError is terminal. Automatic reconnection has been exhausted and
	// only an explicit Connect leaves this state.
	StateError State = "error"
)

// EventType names a streaming event. Handlers are registered per type.
type EventType string

const (
	EventMessageStart          EventType = "message_start"
	EventMessageChunk          EventType = "message_chunk"
	EventMessageEnd            EventType = "message_end"
	EventMessageError          EventType = "message_error"
	EventConnectionStateChange EventType = "connection_state_change"
	EventConnectionError       EventType = "connection_error"
)

// Event is a single occurrence on a conversation stream. Which fields are
// populated depends on Type: message events carry MessageID and usually
// CorrelationID or Content, connection events carry State, Attempt and Err.
type Event struct {
	Type           EventType
	ConversationID string

	// Message events.
	MessageID     string
	CorrelationID string
	Content       string
	Retryable     bool

	// Connection events.
	State   State
	Attempt int
	Err     error
}

// Handler receives dispatched events. Handlers run on the connection's
// dispatch goroutine and must not block for long.
type Handler func(Event)
