// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"testing"
	"time"

	"github.com/jeranaias/tabchat/internal/model"
)

func conversationUpdatedAt(t time.Time, messageCount int) *model.Conversation {
	conv := model.NewConversation("llama3:8b")
	conv.ID = "conv_shared"
	for i := 0; i < messageCount; i++ {
		conv.Messages = append(conv.Messages, model.NewUserMessage(conv.ID, "m"))
	}
	conv.UpdatedAt = t
	return conv
}

func TestResolveRemoteNewerWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := conversationUpdatedAt(base, 2)
	remote := conversationUpdatedAt(base.Add(time.Second), 2)

	got := ResolveConflict(local, SyncEvent{Type: SyncUpdate, Conversation: remote})
	if got != ApplyRemote {
		t.Errorf("resolution = %v, expected ApplyRemote", got)
	}
}

func TestResolveLocalNewerWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := conversationUpdatedAt(base.Add(time.Second), 2)
	remote := conversationUpdatedAt(base, 5)

	got := ResolveConflict(local, SyncEvent{Type: SyncUpdate, Conversation: remote})
	if got != KeepLocal {
		t.Errorf("resolution = %v, expected KeepLocal", got)
	}
}

func TestResolveTieBreaksOnMessageCount(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	local := conversationUpdatedAt(base, 5)
	remote := conversationUpdatedAt(base, 3)
	if got := ResolveConflict(local, SyncEvent{Type: SyncUpdate, Conversation: remote}); got != KeepLocal {
		t.Errorf("local has more messages, resolution = %v, expected KeepLocal", got)
	}

	local = conversationUpdatedAt(base, 3)
	remote = conversationUpdatedAt(base, 5)
	if got := ResolveConflict(local, SyncEvent{Type: SyncUpdate, Conversation: remote}); got != ApplyRemote {
		t.Errorf("remote has more messages, resolution = %v, expected ApplyRemote", got)
	}

	// Exact tie on both timestamp and count: remote wins.
	local = conversationUpdatedAt(base, 3)
	remote = conversationUpdatedAt(base, 3)
	if got := ResolveConflict(local, SyncEvent{Type: SyncUpdate, Conversation: remote}); got != ApplyRemote {
		t.Errorf("exact tie resolution = %v, expected ApplyRemote", got)
	}
}

func TestResolveDeleteAlwaysWins(t *testing.T) {
	local := conversationUpdatedAt(time.Now().Add(time.Hour), 10)
	got := ResolveConflict(local, SyncEvent{Type: SyncDelete, ConversationID: local.ID})
	if got != ApplyRemote {
		t.Errorf("resolution = %v, deletion must always apply", got)
	}
}

func TestResolveNoLocalCopy(t *testing.T) {
	remote := conversationUpdatedAt(time.Now(), 1)
	got := ResolveConflict(nil, SyncEvent{Type: SyncCreate, Conversation: remote})
	if got != ApplyRemote {
		t.Errorf("resolution = %v, expected ApplyRemote for unknown conversation", got)
	}
}

// Tab A broadcast at t=10 arrives at tab B after B's own local update at
// t=12. B must discard the stale remote.
func TestResolveStaleBroadcastDiscarded(t *testing.T) {
	epoch := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := conversationUpdatedAt(epoch.Add(12*time.Second), 4)
	remote := conversationUpdatedAt(epoch.Add(10*time.Second), 4)

	// The event itself may carry an even older timestamp (t=5); only the
	// snapshot's UpdatedAt matters.
	ev := SyncEvent{
		Type:         SyncUpdate,
		Conversation: remote,
		Timestamp:    epoch.Add(5 * time.Second),
	}
	if got := ResolveConflict(local, ev); got != KeepLocal {
		t.Errorf("resolution = %v, expected KeepLocal for stale broadcast", got)
	}
}

// Same inputs must always yield the same winner.
func TestResolveDeterministic(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := conversationUpdatedAt(base, 3)
	remote := conversationUpdatedAt(base.Add(time.Millisecond), 2)
	ev := SyncEvent{Type: SyncUpdate, Conversation: remote}

	first := ResolveConflict(local, ev)
	for i := 0; i < 100; i++ {
		if got := ResolveConflict(local, ev); got != first {
			t.Fatalf("resolution changed between calls: %v then %v", first, got)
		}
	}
}
