// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/tabchat/internal/model"
)

// fakeState is an in-memory local conversation map wired into Hooks.
type fakeState struct {
	mu      sync.Mutex
	convs   map[string]*model.Conversation
	removed []string
}

func newFakeState() *fakeState {
	return &fakeState{convs: map[string]*model.Conversation{}}
}

func (f *fakeState) hooks() Hooks {
	return Hooks{
		Lookup: func(id string) *model.Conversation {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.convs[id]
		},
		Apply: func(conv *model.Conversation) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.convs[conv.ID] = conv
		},
		Remove: func(id string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.convs, id)
			f.removed = append(f.removed, id)
		},
	}
}

type fakeLoader struct {
	conv *model.Conversation
	err  error
}

func (f *fakeLoader) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return f.conv, f.err
}

func TestSyncerAppliesNewerRemote(t *testing.T) {
	state := newFakeState()
	local := model.NewConversation("llama3:8b")
	local.ID = "conv_1"
	state.convs["conv_1"] = local

	remote := local.Clone()
	remote.Messages = append(remote.Messages, model.NewUserMessage("conv_1", "from another tab"))
	remote.UpdatedAt = local.UpdatedAt.Add(time.Second)

	syncer := NewSyncer(NewNoopChannel(), nil, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncUpdate, ConversationID: "conv_1", Conversation: remote})

	if got := state.convs["conv_1"].MessageCount(); got != 1 {
		t.Errorf("messages after sync = %d, expected 1", got)
	}
	if state.convs["conv_1"] == remote {
		t.Error("applied snapshot should be a clone, not the event's instance")
	}
}

func TestSyncerDiscardsStaleRemote(t *testing.T) {
	state := newFakeState()
	local := model.NewConversation("llama3:8b")
	local.ID = "conv_1"
	local.AppendMessage(model.NewUserMessage("conv_1", "local edit"))
	state.convs["conv_1"] = local

	remote := model.NewConversation("llama3:8b")
	remote.ID = "conv_1"
	remote.UpdatedAt = local.UpdatedAt.Add(-time.Minute)

	syncer := NewSyncer(NewNoopChannel(), nil, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncUpdate, ConversationID: "conv_1", Conversation: remote})

	if state.convs["conv_1"] != local {
		t.Error("stale remote replaced the newer local copy")
	}
}

func TestSyncerMaterializesUnknownCreate(t *testing.T) {
	state := newFakeState()
	remote := model.NewConversation("llama3:8b")
	remote.ID = "conv_new"
	remote.AppendMessage(model.NewUserMessage("conv_new", "hi"))

	syncer := NewSyncer(NewNoopChannel(), nil, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncCreate, ConversationID: "conv_new", Conversation: remote})

	if state.convs["conv_new"] == nil {
		t.Fatal("create event did not materialize the conversation")
	}
	if state.convs["conv_new"].MessageCount() != 1 {
		t.Error("materialized conversation lost its messages")
	}
}

func TestSyncerCreateFallsBackToStore(t *testing.T) {
	state := newFakeState()
	stored := model.NewConversation("llama3:8b")
	stored.ID = "conv_stored"
	loader := &fakeLoader{conv: stored}

	syncer := NewSyncer(NewNoopChannel(), loader, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncCreate, ConversationID: "conv_stored"})

	if state.convs["conv_stored"] == nil {
		t.Error("create without embedded data did not fall back to the store")
	}
}

func TestSyncerFallbackFailureIsNonFatal(t *testing.T) {
	state := newFakeState()
	loader := &fakeLoader{err: errors.New("db locked")}

	syncer := NewSyncer(NewNoopChannel(), loader, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncCreate, ConversationID: "conv_x"})

	if len(state.convs) != 0 {
		t.Error("failed fallback should leave local state untouched")
	}
}

func TestSyncerDeleteIgnoresLocalRecency(t *testing.T) {
	state := newFakeState()
	local := model.NewConversation("llama3:8b")
	local.ID = "conv_1"
	local.UpdatedAt = time.Now().Add(time.Hour)
	state.convs["conv_1"] = local

	syncer := NewSyncer(NewNoopChannel(), nil, state.hooks())
	syncer.HandleEvent(SyncEvent{Type: SyncDelete, ConversationID: "conv_1"})

	if _, ok := state.convs["conv_1"]; ok {
		t.Error("delete event did not remove the conversation")
	}
}
