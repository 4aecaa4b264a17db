// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget consumed by a conversation.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/model"
)

// Error variables for remediation failures.
var (
	// ErrExtendInFlight indicates an extension request is already pending
	// for the conversation. Concurrent calls are rejected, not queued.
	ErrExtendInFlight = errors.New("context extension already in progress")

	// ErrCannotExtend indicates the model has no extended context window.
	ErrCannotExtend = errors.New("model does not support context extension")

	// ErrCompressInFlight indicates a compression preview is already pending.
	ErrCompressInFlight = errors.New("compression already in progress")
)

// =============================================================================
// REMEDIATION CONTRACTS
// =============================================================================

// ExtendResult reports the outcome of a context extension.
type ExtendResult struct {
	Success           bool `json:"success"`
	PreviousMaxTokens int  `json:"previous_max_tokens"`
	ExtendedMaxTokens int  `json:"extended_max_tokens"`
}

// CompressOptions parameterizes a compression preview.
type CompressOptions struct {
	// Method selects the backend strategy, e.g. "summary" or "truncate".
	Method string `json:"method"`

	// TargetReduction is the requested fractional shrink, in (0, 1).
	TargetReduction float64 `json:"target_reduction"`

	// PreserveCodeBlocks keeps fenced code blocks verbatim in the
	// compressed context.
	PreserveCodeBlocks bool `json:"preserve_code_blocks"`

	// PreserveRecentMessages is how many trailing messages to carry over
	// unsummarized.
	PreserveRecentMessages int `json:"preserve_recent_messages"`
}

// Validate checks option ranges.
func (o CompressOptions) Validate() error {
	if o.Method == "" {
		return errors.New("compression method required")
	}
	if o.TargetReduction <= 0 || o.TargetReduction >= 1 {
		return fmt.Errorf("target reduction %v outside (0, 1)", o.TargetReduction)
	}
	if o.PreserveRecentMessages < 0 {
		return errors.New("preserve recent messages must be >= 0")
	}
	return nil
}

// CompressionResult is a preview of a compression. Nothing is mutated until
// the result is committed through CreateCompressedConversation.
type CompressionResult struct {
	CompressedContext string                 `json:"compressed_context"`
	OriginalTokens    int                    `json:"original_tokens"`
	CompressedTokens  int                    `json:"compressed_tokens"`
	CompressionRatio  float64                `json:"compression_ratio"`
	Event             model.CompressionEvent `json:"event"`
}

// Remediator is the backend collaborator driving both remediation paths.
type Remediator interface {
	ExtendContext(ctx context.Context, conversationID string) (ExtendResult, error)
	CompressConversation(ctx context.Context, conversationID string, opts CompressOptions) (CompressionResult, error)
	CreateCompressedConversation(ctx context.Context, originalID, compressedContext, title string) (string, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives the two remediation workflows against the backend while
// guaranteeing that failures never leave usage in a partially-applied state.
// Guards are concurrency exclusivity, not wall-clock timeouts; a slow call
// surfaces through connection-state observation instead.
type Engine struct {
	mu          sync.Mutex
	extending   map[string]bool
	compressing map[string]bool

	remediator Remediator
	limits     *LimitCache
	log        *logrus.Entry
}

// NewEngine creates a budget engine.
func NewEngine(remediator Remediator, limits *LimitCache) *Engine {
	return &Engine{
		extending:   make(map[string]bool),
		compressing: make(map[string]bool),
		remediator:  remediator,
		limits:      limits,
		log:         logrus.WithField("component", "budget"),
	}
}

// Limits exposes the engine's limit cache.
func (e *Engine) Limits() *LimitCache {
	return e.limits
}

// Extend requests a context extension for the conversation. At most one
// extension call may be pending per conversation; concurrent calls fail
// with ErrExtendInFlight. On success the model's cached limits are raised.
// On failure nothing changes.
func (e *Engine) Extend(ctx context.Context, conv *model.Conversation) (ExtendResult, error) {
	limits := e.limits.Resolve(ctx, conv.Model)
	if !limits.CanExtend {
		return ExtendResult{}, ErrCannotExtend
	}

	e.mu.Lock()
	if e.extending[conv.ID] {
		e.mu.Unlock()
		return ExtendResult{}, ErrExtendInFlight
	}
	e.extending[conv.ID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.extending, conv.ID)
		e.mu.Unlock()
	}()

	res, err := e.remediator.ExtendContext(ctx, conv.ID)
	if err != nil {
		return ExtendResult{}, fmt.Errorf("extend context: %w", err)
	}
	if !res.Success {
		return res, errors.New("backend declined context extension")
	}

	if res.ExtendedMaxTokens > res.PreviousMaxTokens {
		e.limits.SetExtended(conv.Model, res.ExtendedMaxTokens)
	}
	conv.Extended = true
	conv.Touch()
	e.log.WithFields(logrus.Fields{
		"conversation": conv.ID,
		"previous":     res.PreviousMaxTokens,
		"extended":     res.ExtendedMaxTokens,
	}).Info("context extended")

	return res, nil
}

// Compress requests a compression preview. The original conversation is
// never mutated; committing is a separate, explicit step.
func (e *Engine) Compress(ctx context.Context, conv *model.Conversation, opts CompressOptions) (CompressionResult, error) {
	if err := opts.Validate(); err != nil {
		return CompressionResult{}, err
	}

	e.mu.Lock()
	if e.compressing[conv.ID] {
		e.mu.Unlock()
		return CompressionResult{}, ErrCompressInFlight
	}
	e.compressing[conv.ID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.compressing, conv.ID)
		e.mu.Unlock()
	}()

	res, err := e.remediator.CompressConversation(ctx, conv.ID, opts)
	if err != nil {
		return CompressionResult{}, fmt.Errorf("compress conversation: %w", err)
	}
	return res, nil
}

// Commit materializes a compression preview as a new conversation. The
// backend mints the new conversation id; the local replica seeds its
// history with the compressed context as its opening turn and records the
// compression event. The original conversation is left untouched.
func (e *Engine) Commit(ctx context.Context, original *model.Conversation, res CompressionResult, title string) (*model.Conversation, error) {
	if title == "" {
		title = original.DisplayTitle() + " (compressed)"
	}

	newID, err := e.remediator.CreateCompressedConversation(ctx, original.ID, res.CompressedContext, title)
	if err != nil {
		return nil, fmt.Errorf("create compressed conversation: %w", err)
	}

	conv := model.NewConversation(original.Model)
	conv.ID = newID
	conv.SetTitle(title)

	opening := model.NewUserMessage(newID, res.CompressedContext)
	conv.AppendMessage(opening)
	conv.CompressionHistory = append(conv.CompressionHistory, res.Event)

	e.log.WithFields(logrus.Fields{
		"original": original.ID,
		"new":      newID,
		"ratio":    res.CompressionRatio,
	}).Info("compression committed")

	return conv, nil
}
