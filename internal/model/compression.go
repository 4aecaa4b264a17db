// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// CompressionEvent is an immutable record appended to a conversation's
// compression history once a compression commits.
type CompressionEvent struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	OriginalTokens   int       `json:"original_tokens"`
	CompressedTokens int       `json:"compressed_tokens"`
	CompressionRatio float64   `json:"compression_ratio"`
	Method           string    `json:"method"`
}

// NewCompressionEvent creates a compression record with a generated ID and
// the current time.
func NewCompressionEvent(method string, originalTokens, compressedTokens int) CompressionEvent {
	ratio := 0.0
	if originalTokens > 0 {
		ratio = float64(compressedTokens) / float64(originalTokens)
	}
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return CompressionEvent{
		ID:               "cmp_" + hex.EncodeToString(bytes),
		Timestamp:        time.Now(),
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		CompressionRatio: ratio,
		Method:           method,
	}
}
