// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget consumed by a conversation.
package budget

import "sync"

// WarningTracker records, per conversation, the most severe warning level
// already surfaced. A threshold crossing surfaces once; dismissing it does
// not hide a later, more severe crossing. When usage falls back below the
// warning threshold (after compression or extension) the slate is wiped so
// the next crossing surfaces again.
type WarningTracker struct {
	mu    sync.Mutex
	shown map[string]WarningLevel
}

// NewWarningTracker creates an empty tracker.
func NewWarningTracker() *WarningTracker {
	return &WarningTracker{shown: make(map[string]WarningLevel)}
}

// ShouldSurface reports whether the given level is a fresh crossing for the
// conversation and records it as shown when it is.
func (t *WarningTracker) ShouldSurface(conversationID string, level WarningLevel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if level == LevelNone {
		delete(t.shown, conversationID)
		return false
	}

	if level.MoreSevereThan(t.shown[conversationID]) {
		t.shown[conversationID] = level
		return true
	}
	return false
}

// Reset clears the shown state for a conversation. Called after remediation
// so the next crossing of either threshold surfaces again.
func (t *WarningTracker) Reset(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.shown, conversationID)
}
