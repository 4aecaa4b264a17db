// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget consumed by a conversation.
package budget

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultContextLength is used for models the static table and the
// model-info collaborator both fail to describe.
const DefaultContextLength = 8192

// CapabilityExtendedContext marks a model whose context window the backend
// can extend on request.
const CapabilityExtendedContext = "extended-context"

// ModelLimits describes a model's context window.
type ModelLimits struct {
	ContextLength         int
	ExtendedContextLength int
	CanExtend             bool
}

// MaxFor returns the effective window: the extended length when the
// conversation has a granted extension, the base length otherwise.
func (l ModelLimits) MaxFor(extended bool) int {
	if extended && l.ExtendedContextLength > l.ContextLength {
		return l.ExtendedContextLength
	}
	return l.ContextLength
}

// ModelInfo is the shape returned by the model-info collaborator.
type ModelInfo struct {
	ID            string   `json:"id"`
	ContextLength int      `json:"context_length"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// ModelInfoProvider seeds the limit cache for models missing from the
// static table.
type ModelInfoProvider interface {
	ModelByID(ctx context.Context, id string) (ModelInfo, error)
}

// defaultModelLimits covers the models the backend commonly serves.
// Unknown models are resolved through the provider and cached.
var defaultModelLimits = map[string]ModelLimits{
	"llama3:8b":         {ContextLength: 8192},
	"qwen2.5-coder:7b":  {ContextLength: 32768},
	"mistral:7b":        {ContextLength: 32768},
	"gpt-4o":            {ContextLength: 128000},
	"gpt-4o-mini":       {ContextLength: 128000},
	"claude-3-5-sonnet": {ContextLength: 200000, ExtendedContextLength: 500000, CanExtend: true},
	"claude-3-5-haiku":  {ContextLength: 200000, ExtendedContextLength: 500000, CanExtend: true},
}

// =============================================================================
// LIMIT CACHE
// =============================================================================

// LimitCache resolves per-model context limits. It starts from the static
// table and lazily fills gaps from the model-info collaborator. Successful
// extensions update the cached entry so later usage projections see the
// raised ceiling.
type LimitCache struct {
	mu       sync.RWMutex
	limits   map[string]ModelLimits
	provider ModelInfoProvider
	log      *logrus.Entry
}

// NewLimitCache creates a cache seeded with the static model table.
// provider may be nil; unknown models then fall back to DefaultContextLength.
func NewLimitCache(provider ModelInfoProvider) *LimitCache {
	limits := make(map[string]ModelLimits, len(defaultModelLimits))
	for id, l := range defaultModelLimits {
		limits[id] = l
	}
	return &LimitCache{
		limits:   limits,
		provider: provider,
		log:      logrus.WithField("component", "budget"),
	}
}

// Resolve returns the limits for a model id, consulting the provider once
// for models not yet cached. Provider failures are logged and fall back to
// the default window without caching, so a later call can retry.
func (c *LimitCache) Resolve(ctx context.Context, modelID string) ModelLimits {
	c.mu.RLock()
	limits, ok := c.limits[modelID]
	c.mu.RUnlock()
	if ok {
		return limits
	}

	if c.provider != nil {
		info, err := c.provider.ModelByID(ctx, modelID)
		if err == nil && info.ContextLength > 0 {
			limits = ModelLimits{ContextLength: info.ContextLength}
			for _, cap := range info.Capabilities {
				if cap == CapabilityExtendedContext {
					limits.CanExtend = true
					limits.ExtendedContextLength = info.ContextLength * 2
				}
			}
			c.mu.Lock()
			c.limits[modelID] = limits
			c.mu.Unlock()
			return limits
		}
		if err != nil {
			c.log.WithError(err).WithField("model", modelID).Warn("model info lookup failed")
		}
	}

	return ModelLimits{ContextLength: DefaultContextLength}
}

// SetExtended records the extended window granted for a model.
func (c *LimitCache) SetExtended(modelID string, extendedMax int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limits := c.limits[modelID]
	if limits.ContextLength == 0 {
		limits.ContextLength = DefaultContextLength
	}
	if extendedMax > limits.ExtendedContextLength {
		limits.ExtendedContextLength = extendedMax
	}
	limits.CanExtend = true
	c.limits[modelID] = limits
}
