// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget ("context") consumed by a
// conversation and drives the two remediation paths when it runs low.
//
// The pieces, leaves first:
//
//   - EstimateMessage: a pure, deterministic token heuristic over message
//     content, attachments and code blocks.
//   - LimitCache: per-model context windows, seeded from a static table and
//     filled lazily from the model-info collaborator.
//   - Usage: the derived projection (current tokens, effective window,
//     thresholds) recomputed on every history change.
//   - WarningTracker: one-shot threshold-crossing state so a warning
//     surfaces once per crossing rather than on every recompute.
//   - Engine: context extension and preview-then-commit compression against
//     the backend remediation collaborator, with single in-flight guards
//     and no partially-applied failure states.
package budget
