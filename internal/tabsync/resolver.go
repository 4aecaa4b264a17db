// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import "github.com/jeranaias/tabchat/internal/model"

// Resolution is the outcome of conflict resolution for one remote event.
type Resolution int

const (
	// KeepLocal discards the remote update; the local copy is newer.
	KeepLocal Resolution = iota
	// ApplyRemote replaces the local copy with the remote snapshot.
	ApplyRemote
)

func (r Resolution) String() string {
	if r == ApplyRemote {
		return "apply_remote"
	}
	return "keep_local"
}

// ResolveConflict decides whether a remote update replaces the local copy
// of a conversation. It is a pure function: same inputs always yield the
// same winner.
//
// Rules, in order:
//   - delete always wins, regardless of local state
//   - no local copy means the remote snapshot is taken as-is
//   - newer UpdatedAt wins
//   - on an exact timestamp tie, the copy with more messages wins,
//     remote winning an exact tie on both
//
// Message history is replace-the-whole-field. Merging two histories
// element by element risks duplicating messages that both tabs saw, so
// the losing copy's messages are dropped entirely.
func ResolveConflict(local *model.Conversation, ev SyncEvent) Resolution {
	if ev.Type == SyncDelete {
		return ApplyRemote
	}
	if local == nil {
		return ApplyRemote
	}
	remote := ev.Conversation
	if remote == nil {
		return KeepLocal
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		return ApplyRemote
	}
	if remote.UpdatedAt.Before(local.UpdatedAt) {
		return KeepLocal
	}

	if len(local.Messages) > len(remote.Messages) {
		return KeepLocal
	}
	return ApplyRemote
}
