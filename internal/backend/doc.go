// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the chat backend: message
// sends, context remediation, model metadata and the per-conversation
// NDJSON event stream.
package backend
