// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates a chat session: it wires the streaming
// connection, the message assembler, the context budget engine and
// cross-instance sync together per conversation, and exposes the calls a
// UI layer consumes (send, retry, extend, compress, open, delete).
package session
