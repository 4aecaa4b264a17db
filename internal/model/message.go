// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jeranaias/tabchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// ATTACHMENTS AND CODE BLOCKS
// =============================================================================

// Attachment describes a file attached to a message. Only the metadata the
// budget engine needs is kept; the file body lives with the backend.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// CodeBlock is a fenced code block carried alongside a message.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// An assistant message starts life incomplete: chunks accumulate in a
// strings.Builder and Content stays empty until Finalize snapshots it.
// Once Complete is true the content is frozen.
type Message struct {
	// Identity
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Timestamp      time.Time `json:"timestamp"`

	// CorrelationID links a user message to the assistant response it
	// triggered. Stable across reconnects.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Content is mutable while streaming, immutable once Complete.
	Content  string `json:"content"`
	Complete bool   `json:"complete"`

	// Retryable is set on the triggering user message when its response
	// stream fails.
	Retryable bool `json:"retryable,omitempty"`

	// Optional payloads
	Attachments []Attachment `json:"attachments,omitempty"`
	CodeBlocks  []CodeBlock  `json:"code_blocks,omitempty"`

	// ContextTokens caches the last token estimate for this message.
	ContextTokens int `json:"context_tokens,omitempty"`

	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	streamContent strings.Builder
}

// NewUserMessage creates a complete user message with a generated ID and a
// fresh correlation ID is assigned by the caller.
func NewUserMessage(conversationID, content string) *Message {
	return &Message{
		ID:             generateMessageID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Complete:       true,
		Timestamp:      time.Now(),
	}
}

// NewAssistantMessage creates an incomplete assistant message placeholder
// for an incoming stream.
func NewAssistantMessage(conversationID, messageID, correlationID string) *Message {
	if messageID == "" {
		messageID = generateMessageID()
	}
	return &Message{
		ID:             messageID,
		ConversationID: conversationID,
		Role:           RoleAssistant,
		CorrelationID:  correlationID,
		Timestamp:      time.Now(),
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendChunk appends streamed content to an incomplete message.
// Chunks arriving after completion are ignored; the content is frozen.
func (m *Message) AppendChunk(chunk string) {
	if m.Complete {
		return
	}
	m.streamContent.WriteString(chunk)
}

// Finalize snapshots the accumulated stream content, freezes the message
// and stamps the completion time.
func (m *Message) Finalize() {
	if m.Complete {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.Complete = true
	m.Timestamp = time.Now()
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if !m.Complete && m.streamContent.Len() > 0 {
		return m.streamContent.String()
	}
	return m.Content
}

// Preview returns a truncated single-line preview of the message content.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.CollapseWhitespace(m.DisplayContent()), maxLen)
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Clone returns a deep copy of the message. The stream accumulator is
// copied by value into a fresh builder so the clone is independent.
func (m *Message) Clone() *Message {
	clone := &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Timestamp:      m.Timestamp,
		CorrelationID:  m.CorrelationID,
		Content:        m.Content,
		Complete:       m.Complete,
		Retryable:      m.Retryable,
		ContextTokens:  m.ContextTokens,
	}
	if len(m.Attachments) > 0 {
		clone.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if len(m.CodeBlocks) > 0 {
		clone.CodeBlocks = append([]CodeBlock(nil), m.CodeBlocks...)
	}
	if m.streamContent.Len() > 0 {
		clone.streamContent.WriteString(m.streamContent.String())
	}
	return clone
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
