// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream manages per-conversation streaming connections.
//
// Each conversation gets its own Conn, a small state machine that moves
// through disconnected, connecting, connected, reconnecting and error.
// Loss of an established connection triggers automatic reconnection with
// exponential backoff; after five consecutive failures the Conn parks in
// the error state until explicitly reconnected.
//
// Incoming events are fanned out to a per-event-type handler registry that
// can be rewired at any time without disturbing the transport.
package stream
