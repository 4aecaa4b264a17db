// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("conv_1", "hello")

	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("ID should start with 'msg_', got %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want user", msg.Role)
	}
	if !msg.Complete {
		t.Error("user messages are complete on creation")
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestMessageStreaming(t *testing.T) {
	msg := NewAssistantMessage("conv_1", "m1", "corr_1")

	if msg.Complete {
		t.Fatal("assistant placeholder should start incomplete")
	}

	msg.AppendChunk("Hello")
	msg.AppendChunk(", world")

	if got := msg.DisplayContent(); got != "Hello, world" {
		t.Errorf("DisplayContent = %q", got)
	}
	if msg.Content != "" {
		t.Errorf("Content should stay empty until finalize, got %q", msg.Content)
	}

	msg.Finalize()

	if !msg.Complete {
		t.Error("message should be complete after finalize")
	}
	if msg.Content != "Hello, world" {
		t.Errorf("Content = %q", msg.Content)
	}

	// Content frozen: further chunks are dropped.
	msg.AppendChunk("!!!")
	if msg.Content != "Hello, world" {
		t.Errorf("Content mutated after finalize: %q", msg.Content)
	}
}

func TestMessageFinalizeIdempotent(t *testing.T) {
	msg := NewAssistantMessage("conv_1", "m1", "corr_1")
	msg.AppendChunk("abc")
	msg.Finalize()
	first := msg.Timestamp
	msg.Finalize()
	if msg.Content != "abc" || msg.Timestamp != first {
		t.Error("second finalize must be a no-op")
	}
}

func TestMessageClone(t *testing.T) {
	msg := NewAssistantMessage("conv_1", "m1", "corr_1")
	msg.AppendChunk("partial")

	clone := msg.Clone()
	clone.AppendChunk(" more")

	if msg.DisplayContent() != "partial" {
		t.Errorf("original mutated by clone: %q", msg.DisplayContent())
	}
	if clone.DisplayContent() != "partial more" {
		t.Errorf("clone content = %q", clone.DisplayContent())
	}
}

func TestAttachmentIsImage(t *testing.T) {
	if !(Attachment{MIMEType: "image/png"}).IsImage() {
		t.Error("image/png should be an image")
	}
	if (Attachment{MIMEType: "application/pdf"}).IsImage() {
		t.Error("application/pdf should not be an image")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversationAppendUpdatesTitle(t *testing.T) {
	conv := NewConversation("test-model")
	conv.AppendMessage(NewUserMessage(conv.ID, "How do I write a test in Go?"))

	if conv.Title != "How do I write a test in Go?" {
		t.Errorf("Title = %q", conv.Title)
	}
}

func TestConversationTouchMonotonic(t *testing.T) {
	conv := NewConversation("test-model")
	prev := conv.UpdatedAt
	for i := 0; i < 1000; i++ {
		conv.Touch()
		if !conv.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt did not increase on mutation %d", i)
		}
		prev = conv.UpdatedAt
	}
}

func TestConversationEviction(t *testing.T) {
	conv := NewConversation("test-model")
	conv.BeginAssistant("m_inflight", "corr_x")

	for i := 0; i < MaxMessages+25; i++ {
		conv.AppendMessage(NewUserMessage(conv.ID, "message"))
	}

	if len(conv.Messages) != MaxMessages {
		t.Errorf("history length = %d, want %d", len(conv.Messages), MaxMessages)
	}
	if conv.InFlight == nil {
		t.Error("in-flight message must survive eviction")
	}
}

func TestConversationFinalizeInFlight(t *testing.T) {
	conv := NewConversation("test-model")
	conv.AppendMessage(NewUserMessage(conv.ID, "question"))

	msg := conv.BeginAssistant("m1", "corr_1")
	msg.AppendChunk("answer")

	done := conv.FinalizeInFlight()
	if done == nil {
		t.Fatal("expected finalized message")
	}
	if conv.InFlight != nil {
		t.Error("in-flight marker should be cleared")
	}
	if last := conv.LastMessage(); last == nil || last.ID != "m1" || last.Content != "answer" {
		t.Errorf("history tail wrong: %+v", last)
	}

	// No stream active: finalize is a no-op.
	if conv.FinalizeInFlight() != nil {
		t.Error("finalize with no in-flight should return nil")
	}
}

func TestConversationAbortInFlight(t *testing.T) {
	conv := NewConversation("test-model")
	conv.AppendMessage(NewUserMessage(conv.ID, "question"))
	conv.BeginAssistant("m1", "corr_1").AppendChunk("part")

	conv.AbortInFlight()

	if conv.IsStreaming() {
		t.Error("conversation still streaming after abort")
	}
	if len(conv.Messages) != 1 {
		t.Errorf("partial assistant message leaked into history: %d messages", len(conv.Messages))
	}
}

func TestUserMessageByCorrelation(t *testing.T) {
	conv := NewConversation("test-model")
	first := NewUserMessage(conv.ID, "one")
	first.CorrelationID = "corr_a"
	second := NewUserMessage(conv.ID, "two")
	second.CorrelationID = "corr_b"
	conv.AppendMessage(first)
	conv.AppendMessage(second)

	if got := conv.UserMessageByCorrelation("corr_a"); got == nil || got.ID != first.ID {
		t.Error("lookup by correlation failed")
	}
	if conv.UserMessageByCorrelation("") != nil {
		t.Error("empty correlation must not match")
	}
	if conv.UserMessageByCorrelation("corr_zzz") != nil {
		t.Error("unknown correlation must not match")
	}
}

func TestConversationClone(t *testing.T) {
	conv := NewConversation("test-model")
	conv.AppendMessage(NewUserMessage(conv.ID, "hello"))
	conv.BeginAssistant("m1", "corr_1").AppendChunk("str")

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	clone.InFlight.AppendChunk("eaming")
	clone.Touch()

	if conv.Messages[0].Content != "hello" {
		t.Error("clone shares message storage with original")
	}
	if conv.InFlight.DisplayContent() != "str" {
		t.Error("clone shares in-flight accumulator with original")
	}
}

func TestNewCompressionEvent(t *testing.T) {
	ev := NewCompressionEvent("summary", 1000, 250)

	if !strings.HasPrefix(ev.ID, "cmp_") {
		t.Errorf("ID = %q", ev.ID)
	}
	if ev.CompressionRatio != 0.25 {
		t.Errorf("ratio = %v, want 0.25", ev.CompressionRatio)
	}
	if time.Since(ev.Timestamp) > time.Minute {
		t.Error("timestamp not set")
	}
}
