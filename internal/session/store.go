// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"

	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/stream"
)

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

// ChangeType classifies a store notification.
type ChangeType string

const (
	// ChangeConversation: a conversation was created or mutated.
	ChangeConversation ChangeType = "conversation"
	// ChangeRemoved: a conversation was deleted.
	ChangeRemoved ChangeType = "removed"
	// ChangeConnection: a conversation's connection state moved.
	ChangeConnection ChangeType = "connection"
	// ChangeUsage: a conversation's context usage was recomputed.
	ChangeUsage ChangeType = "usage"
	// ChangeWarning: a context warning crossed a surfacing threshold.
	ChangeWarning ChangeType = "warning"
)

// Change describes one store mutation for subscribers.
type Change struct {
	Type           ChangeType
	ConversationID string

	// Populated for ChangeConnection.
	ConnState stream.State

	// Populated for ChangeUsage and ChangeWarning.
	Usage budget.Usage
	Level budget.WarningLevel
}

// =============================================================================
// STORE
// =============================================================================

// Store holds the session's published state: every open conversation, its
// connection state and its usage numbers. The conversations here are
// immutable snapshots the orchestrator clones from its live copies, so any
// goroutine may read them without coordination; callers must not mutate
// them. Subscribers observe changes through notifications delivered on the
// mutating goroutine.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*model.Conversation
	activeID      string
	connStates    map[string]stream.State
	usage         map[string]budget.Usage

	nextSub int
	subs    map[int]func(Change)
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		conversations: map[string]*model.Conversation{},
		connStates:    map[string]stream.State{},
		usage:         map[string]budget.Usage{},
		subs:          map[int]func(Change){},
	}
}

// Subscribe registers a change handler. The returned function removes it.
func (s *Store) Subscribe(handler func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	handlers := make([]func(Change), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(change)
	}
}

// =============================================================================
// CONVERSATION STATE
// =============================================================================

// Conversation returns the published snapshot for id, or nil. The snapshot
// is read-only.
func (s *Store) Conversation(id string) *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[id]
}

// Conversations returns snapshots of every open conversation.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out
}

// Put inserts or replaces a conversation and notifies subscribers.
func (s *Store) Put(conv *model.Conversation) {
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	s.notify(Change{Type: ChangeConversation, ConversationID: conv.ID})
}

// Remove deletes a conversation and its derived state.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	_, existed := s.conversations[id]
	delete(s.conversations, id)
	delete(s.connStates, id)
	delete(s.usage, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()
	if existed {
		s.notify(Change{Type: ChangeRemoved, ConversationID: id})
	}
}

// SetActive marks the conversation the UI is focused on.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
}

// ActiveID returns the focused conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// SetConnState records a conversation's connection state.
func (s *Store) SetConnState(id string, state stream.State) {
	s.mu.Lock()
	s.connStates[id] = state
	s.mu.Unlock()
	s.notify(Change{Type: ChangeConnection, ConversationID: id, ConnState: state})
}

// ConnState returns a conversation's connection state.
func (s *Store) ConnState(id string) stream.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.connStates[id]; ok {
		return state
	}
	return stream.StateDisconnected
}

// SetUsage records recomputed usage for a conversation.
func (s *Store) SetUsage(id string, u budget.Usage) {
	s.mu.Lock()
	s.usage[id] = u
	s.mu.Unlock()
	s.notify(Change{Type: ChangeUsage, ConversationID: id, Usage: u, Level: u.WarningLevel()})
}

// Usage returns the last computed usage for a conversation.
func (s *Store) Usage(id string) budget.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[id]
}

// SurfaceWarning notifies subscribers of a newly crossed warning level.
func (s *Store) SurfaceWarning(id string, u budget.Usage, level budget.WarningLevel) {
	s.notify(Change{Type: ChangeWarning, ConversationID: id, Usage: u, Level: level})
}
