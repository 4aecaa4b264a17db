// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget consumed by a conversation.
package budget

import (
	"github.com/jeranaias/tabchat/internal/model"
)

// Token estimation constants. The heuristic is deliberately simple: it only
// needs to be deterministic and monotonic in input size, not numerically
// accurate. ~4 characters per token matches what the backend reports within
// a few percent for English text.
const (
	charsPerToken         = 4
	messageOverheadTokens = 4

	// imageAttachmentTokens is the fixed cost charged per image attachment.
	imageAttachmentTokens = 512

	// attachmentBytesPerToken converts non-image attachment size to tokens.
	attachmentBytesPerToken = 4

	// codeBlockOverheadTokens covers the fence markers and language tag.
	codeBlockOverheadTokens = 8
)

// EstimateText estimates the token count of a plain text string.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessage estimates the total token cost of a message: content,
// attachments and code blocks plus a fixed per-message structure overhead.
// Pure and deterministic.
func EstimateMessage(m *model.Message) int {
	total := EstimateText(m.DisplayContent()) + messageOverheadTokens

	for _, att := range m.Attachments {
		if att.IsImage() {
			total += imageAttachmentTokens
		} else {
			total += int(att.Size / attachmentBytesPerToken)
		}
	}

	for _, block := range m.CodeBlocks {
		total += EstimateText(block.Content) + codeBlockOverheadTokens
	}

	return total
}

// EstimateConversation sums the estimates of all history messages plus the
// in-flight message, if any.
func EstimateConversation(c *model.Conversation) int {
	total := 0
	for _, msg := range c.Messages {
		total += EstimateMessage(msg)
	}
	if c.InFlight != nil {
		total += EstimateMessage(c.InFlight)
	}
	return total
}
