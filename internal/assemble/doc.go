// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assemble turns streaming events into assembled chat messages.
// It enforces the in-flight invariants: one reply at a time, chunks only
// for the message being assembled, and no partial content ever committed
// to history.
package assemble
