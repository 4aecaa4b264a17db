// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/model"
)

func fastRetries(t *testing.T) {
	t.Helper()
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = old })
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 0)
	msg := model.NewUserMessage("conv_1", "hello backend")
	msg.CorrelationID = "corr_1"

	if err := client.SendMessage(context.Background(), "conv_1", msg); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if gotPath != "/v1/conversations/conv_1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Content != "hello backend" || gotBody.CorrelationID != "corr_1" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestExtendContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations/conv_1/extend" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(budget.ExtendResult{
			Success:           true,
			PreviousMaxTokens: 200000,
			ExtendedMaxTokens: 500000,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	res, err := client.ExtendContext(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("ExtendContext failed: %v", err)
	}
	if !res.Success || res.ExtendedMaxTokens != 500000 {
		t.Errorf("result = %+v", res)
	}
}

func TestCompressConversationBuildsEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var opts budget.CompressOptions
		json.NewDecoder(r.Body).Decode(&opts)
		if opts.Method != "summary" {
			t.Errorf("method = %q", opts.Method)
		}
		json.NewEncoder(w).Encode(compressResponse{
			CompressedContext: "short",
			OriginalTokens:    1000,
			CompressedTokens:  250,
			CompressionRatio:  0.25,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	res, err := client.CompressConversation(context.Background(), "conv_1", budget.CompressOptions{
		Method:          "summary",
		TargetReduction: 0.75,
	})
	if err != nil {
		t.Fatalf("CompressConversation failed: %v", err)
	}
	if res.CompressedContext != "short" {
		t.Errorf("CompressedContext = %q", res.CompressedContext)
	}
	if res.Event.Method != "summary" || res.Event.OriginalTokens != 1000 {
		t.Errorf("event = %+v", res.Event)
	}
}

func TestCreateCompressedConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createConversationRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.OriginalID != "conv_1" || req.CompressedContext != "summary text" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(createConversationResponse{ID: "conv_new"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	id, err := client.CreateCompressedConversation(context.Background(), "conv_1", "summary text", "title")
	if err != nil {
		t.Fatalf("CreateCompressedConversation failed: %v", err)
	}
	if id != "conv_new" {
		t.Errorf("id = %q", id)
	}
}

func TestModelByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/custom:13b" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(budget.ModelInfo{
			ID:            "custom:13b",
			ContextLength: 16384,
			Capabilities:  []string{budget.CapabilityExtendedContext},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	info, err := client.ModelByID(context.Background(), "custom:13b")
	if err != nil {
		t.Fatalf("ModelByID failed: %v", err)
	}
	if info.ContextLength != 16384 {
		t.Errorf("ContextLength = %d", info.ContextLength)
	}
}

func TestRetryOnServerError(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(budget.ExtendResult{Success: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	res, err := client.ExtendContext(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if !res.Success {
		t.Error("result not decoded after retry")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, expected 3", calls.Load())
	}
}

func TestRetriesExhausted(t *testing.T) {
	fastRetries(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	_, err := client.ExtendContext(context.Background(), "conv_1")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, expected ErrRateLimited", err)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "conversation not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	_, err := client.ExtendContext(context.Background(), "conv_missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("err = %v, expected ErrConversationNotFound", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not be retried", calls.Load())
	}
}

func TestNotFoundMappedByEndpoint(t *testing.T) {
	// The 404 body carries no machine-readable detail; the sentinel must
	// come from which endpoint was asked, not from the error text.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no such resource"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)

	if _, err := client.ModelByID(context.Background(), "ghost:7b"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("ModelByID err = %v, expected ErrModelNotFound", err)
	}
	if _, err := client.ExtendContext(context.Background(), "conv_ghost"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("ExtendContext err = %v, expected ErrConversationNotFound", err)
	}
	if err := client.SendMessage(context.Background(), "conv_ghost", model.NewUserMessage("conv_ghost", "x")); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("SendMessage err = %v, expected ErrConversationNotFound", err)
	}
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient("", "", 0)
	if err := client.SendMessage(context.Background(), "conv_1", model.NewUserMessage("conv_1", "x")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, expected ErrNotConfigured", err)
	}
}
