// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// MaxMessages is the maximum number of messages kept in conversation history.
// When exceeded, the oldest messages are evicted first. The in-flight
// assistant message lives outside the history slice until it finalizes, so
// it can never be evicted mid-stream.
const MaxMessages = 100

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
//
// A Conversation is owned by a single in-memory store; persisted copies and
// copies in other tabs are replicas, never the source of truth for this
// tab's in-flight stream.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Model configuration
	Model string `json:"model"`

	// Messages is the completed history, ordered oldest first.
	Messages []*Message `json:"messages"`

	// InFlight is the assistant message currently streaming, if any.
	// It is not part of Messages until it finalizes. Never persisted.
	InFlight *Message `json:"-"`

	// Extended is set after a successful context extension.
	Extended bool `json:"extended,omitempty"`

	// CompressionHistory records completed compressions, newest last.
	CompressionHistory []CompressionEvent `json:"compression_history,omitempty"`
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation(modelID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        generateConversationID(),
		Model:     modelID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AppendMessage adds a completed message to history, bumps UpdatedAt,
// auto-titles the conversation and evicts the oldest messages beyond
// MaxMessages.
func (c *Conversation) AppendMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.Touch()
	c.updateTitle()
	c.evictOldest()
}

// BeginAssistant materializes the in-flight assistant placeholder.
// The caller is responsible for the at-most-one-in-flight invariant.
func (c *Conversation) BeginAssistant(messageID, correlationID string) *Message {
	msg := NewAssistantMessage(c.ID, messageID, correlationID)
	c.InFlight = msg
	c.Touch()
	return msg
}

// FinalizeInFlight freezes the in-flight message, appends it to history and
// clears the in-flight marker. Returns the finalized message, or nil if
// nothing was streaming.
func (c *Conversation) FinalizeInFlight() *Message {
	if c.InFlight == nil {
		return nil
	}
	msg := c.InFlight
	msg.Finalize()
	c.InFlight = nil
	c.AppendMessage(msg)
	return msg
}

// AbortInFlight drops the in-flight message without adding it to history.
func (c *Conversation) AbortInFlight() {
	if c.InFlight == nil {
		return
	}
	c.InFlight = nil
	c.Touch()
}

// IsStreaming reports whether an assistant response is currently in flight.
func (c *Conversation) IsStreaming() bool {
	return c.InFlight != nil
}

// LastMessage returns the most recent history message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// MessageByID returns a history message by its ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// UserMessageByCorrelation returns the user message with the given
// correlation ID, or nil. Used to mark the triggering message retryable
// when its response stream fails.
func (c *Conversation) UserMessageByCorrelation(correlationID string) *Message {
	if correlationID == "" {
		return nil
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		msg := c.Messages[i]
		if msg.Role == RoleUser && msg.CorrelationID == correlationID {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of history messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// =============================================================================
// TIMESTAMPS AND TITLE
// =============================================================================

// Touch bumps UpdatedAt. The timestamp increases strictly on every call
// even under a coarse clock, which the cross-tab conflict resolution
// relies on.
func (c *Conversation) Touch() {
	now := time.Now()
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

// updateTitle auto-generates a title from the first user message if unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.Touch()
}

// DisplayTitle returns the conversation title or a default.
func (c *Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// evictOldest trims history to MaxMessages, dropping the oldest first.
// The in-flight message is stored separately and is never a candidate.
func (c *Conversation) evictOldest() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	c.Messages = append(c.Messages[:0:0], c.Messages[excess:]...)
}

// =============================================================================
// CLONING
// =============================================================================

// Clone creates a deep copy of the conversation. Used by the reducer so
// state transitions never alias live message pointers, and by the conflict
// resolver to snapshot both sides.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Model:     c.Model,
		Extended:  c.Extended,
		Messages:  make([]*Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		clone.Messages[i] = msg.Clone()
	}
	if c.InFlight != nil {
		clone.InFlight = c.InFlight.Clone()
	}
	if len(c.CompressionHistory) > 0 {
		clone.CompressionHistory = append([]CompressionEvent(nil), c.CompressionHistory...)
	}
	return clone
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}
