// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// The central invariants live here:
//
//   - At most one assistant message is in flight per conversation; it is
//     held in Conversation.InFlight, outside the history slice, until its
//     stream ends.
//   - Conversation.UpdatedAt increases strictly on every mutation, which
//     cross-tab conflict resolution depends on.
//   - History is capped at MaxMessages with oldest-first eviction; the
//     in-flight message is structurally exempt.
//
// Messages accumulate streamed chunks in a strings.Builder and freeze their
// content on Finalize.
package model
