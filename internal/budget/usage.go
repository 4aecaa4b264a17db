// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package budget tracks the token budget consumed by a conversation.
package budget

import (
	"github.com/jeranaias/tabchat/internal/model"
)

// DefaultWarningThreshold is the percentage of the context window at which
// the warning level is first raised.
const DefaultWarningThreshold = 80

// criticalThresholdPercent is fixed: at 95% of the window the conversation
// is close enough to the ceiling that sends may start failing.
const criticalThresholdPercent = 95

// =============================================================================
// USAGE PROJECTION
// =============================================================================

// Usage is the derived context-usage projection for a conversation.
// It is recomputed on every message-history change and never persisted as
// authoritative.
type Usage struct {
	CurrentTokens    int  `json:"current_tokens"`
	MaxTokens        int  `json:"max_tokens"`
	WarningThreshold int  `json:"warning_threshold"`
	CanExtend        bool `json:"can_extend"`
	IsExtended       bool `json:"is_extended"`
}

// ComputeUsage projects the usage of a conversation against its model's
// limits. The effective window honors a granted extension.
func ComputeUsage(c *model.Conversation, limits ModelLimits, warningThreshold int) Usage {
	if warningThreshold <= 0 || warningThreshold >= 100 {
		warningThreshold = DefaultWarningThreshold
	}
	return Usage{
		CurrentTokens:    EstimateConversation(c),
		MaxTokens:        limits.MaxFor(c.Extended),
		WarningThreshold: warningThreshold,
		CanExtend:        limits.CanExtend && !c.Extended,
		IsExtended:       c.Extended,
	}
}

// Percent returns the fraction of the window consumed, in percent.
func (u Usage) Percent() float64 {
	if u.MaxTokens <= 0 {
		return 0
	}
	return float64(u.CurrentTokens) / float64(u.MaxTokens) * 100
}

// =============================================================================
// WARNING LEVELS
// =============================================================================

// WarningLevel classifies context usage.
type WarningLevel string

const (
	LevelNone     WarningLevel = "none"
	LevelWarning  WarningLevel = "warning"
	LevelCritical WarningLevel = "critical"
)

// severity orders warning levels for crossing detection.
func (l WarningLevel) severity() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	default:
		return 0
	}
}

// MoreSevereThan reports whether l outranks other.
func (l WarningLevel) MoreSevereThan(other WarningLevel) bool {
	return l.severity() > other.severity()
}

// WarningLevel classifies the usage. Critical (>=95% of the window) takes
// precedence over the configurable warning threshold; a usage is never
// reported at both levels.
func (u Usage) WarningLevel() WarningLevel {
	pct := u.Percent()
	switch {
	case pct >= criticalThresholdPercent:
		return LevelCritical
	case pct >= float64(u.WarningThreshold):
		return LevelWarning
	default:
		return LevelNone
	}
}
