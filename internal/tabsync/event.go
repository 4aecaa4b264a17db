// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"time"

	"github.com/jeranaias/tabchat/internal/model"
)

// SyncEventType classifies a cross-instance sync event.
type SyncEventType string

const (
	SyncCreate SyncEventType = "create"
	SyncUpdate SyncEventType = "update"
	SyncDelete SyncEventType = "delete"
)

// SyncEvent is broadcast to other running instances when a conversation
// changes locally. Create and update events carry the full conversation
// snapshot; delete events carry only the id.
type SyncEvent struct {
	Type           SyncEventType       `json:"type"`
	ConversationID string              `json:"conversation_id"`
	SourceTabID    string              `json:"source_tab_id"`
	Timestamp      time.Time           `json:"timestamp"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
}
