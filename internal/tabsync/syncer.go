// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/model"
)

// loadTimeout bounds the durable-store fallback fetch for create events
// that arrive without an embedded snapshot.
const loadTimeout = 5 * time.Second

// ConversationLoader is the durable-store surface the syncer falls back to
// when an event arrives without embedded conversation data.
type ConversationLoader interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
}

// Hooks connect the syncer to the local conversation state it reconciles.
// All three are invoked from the channel's dispatch goroutine.
type Hooks struct {
	// Lookup returns the local copy of a conversation, or nil.
	Lookup func(id string) *model.Conversation

	// Apply replaces the local copy with the winning remote snapshot.
	Apply func(conv *model.Conversation)

	// Remove deletes the conversation locally.
	Remove func(id string)
}

// Syncer is the receive side of cross-instance synchronization. It
// subscribes to a Channel, resolves each incoming event against local
// state and applies the winner.
type Syncer struct {
	channel     Channel
	loader      ConversationLoader
	hooks       Hooks
	log         *logrus.Entry
	unsubscribe func()
}

// NewSyncer creates a Syncer. loader may be nil if no durable store is
// available; create events without embedded data are then dropped.
func NewSyncer(channel Channel, loader ConversationLoader, hooks Hooks) *Syncer {
	return &Syncer{
		channel: channel,
		loader:  loader,
		hooks:   hooks,
		log:     logrus.WithField("component", "tabsync"),
	}
}

// Start subscribes to the channel.
func (s *Syncer) Start() {
	s.unsubscribe = s.channel.Subscribe(s.HandleEvent)
}

// Stop unsubscribes from the channel. Handlers already running finish.
func (s *Syncer) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// HandleEvent reconciles one incoming event against local state.
func (s *Syncer) HandleEvent(ev SyncEvent) {
	switch ev.Type {
	case SyncDelete:
		// Deletion is not subject to conflict resolution. Last delete wins.
		s.hooks.Remove(ev.ConversationID)
		return
	case SyncCreate, SyncUpdate:
	default:
		s.log.WithField("type", ev.Type).Debug("unknown sync event type, dropping")
		return
	}

	remote := ev.Conversation
	if remote == nil {
		remote = s.loadFallback(ev.ConversationID)
		if remote == nil {
			return
		}
		ev.Conversation = remote
	}

	local := s.hooks.Lookup(ev.ConversationID)
	resolution := ResolveConflict(local, ev)
	s.log.WithFields(logrus.Fields{
		"conversation": ev.ConversationID,
		"type":         ev.Type,
		"resolution":   resolution.String(),
	}).Debug("resolved sync event")

	if resolution == ApplyRemote {
		s.hooks.Apply(remote.Clone())
	}
}

// loadFallback fetches the conversation from the durable store when the
// event carried no snapshot.
func (s *Syncer) loadFallback(id string) *model.Conversation {
	if s.loader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	conv, err := s.loader.GetConversation(ctx, id)
	if err != nil {
		// Storage errors are non-fatal; local state stays authoritative.
		s.log.WithError(err).WithField("conversation", id).Debug("fallback load failed")
		return nil
	}
	return conv
}
