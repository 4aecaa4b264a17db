// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tabsync keeps conversations consistent across independently
// running instances that share a data directory.
//
// Mutations are broadcast as SyncEvents over a Channel. The default
// FileChannel spools atomically-written JSON files into a shared directory
// and watches it with fsnotify; any pub/sub transport satisfying Channel
// works equally, since conflict resolution is independent of transport.
//
// Conflicts resolve by timestamp: the newer copy wins, ties prefer the
// copy with more messages, and deletion always wins.
package tabsync
