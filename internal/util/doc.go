// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across tabchat packages:
// atomic file writes with fsync (used by the sync spool) and rune-aware
// string truncation for titles and previews.
package util
