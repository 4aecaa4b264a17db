// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeranaias/tabchat/internal/stream"
)

func collectEvents(t *testing.T, events <-chan stream.Event, n int) []stream.Event {
	t.Helper()
	var out []stream.Event
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed after %d events, expected %d", len(out), n)
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events, expected %d", len(out), n)
		}
	}
	return out
}

func TestStreamTransportDecodesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations/conv_1/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		flusher := w.(http.Flusher)
		lines := []string{
			`{"type":"message_start","message_id":"msg_r1","correlation_id":"corr_1"}`,
			`{"type":"message_chunk","message_id":"msg_r1","content":"Hel"}`,
			`not json at all`,
			`{"type":"heartbeat"}`,
			`{"type":"message_chunk","message_id":"msg_r1","content":"lo"}`,
			`{"type":"message_end","message_id":"msg_r1"}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer server.Close()

	transport := NewStreamTransport(server.URL, "", "conv_1")
	events, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	got := collectEvents(t, events, 4)
	if got[0].Type != stream.EventMessageStart || got[0].CorrelationID != "corr_1" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Type != stream.EventMessageChunk || got[1].Content != "Hel" {
		t.Errorf("event 1 = %+v", got[1])
	}
	if got[2].Content != "lo" {
		t.Errorf("event 2 = %+v, malformed lines should be skipped", got[2])
	}
	if got[3].Type != stream.EventMessageEnd {
		t.Errorf("event 3 = %+v", got[3])
	}

	// Server closed the stream; the channel must close.
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected channel close after server EOF")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel did not close after server EOF")
	}
}

func TestStreamTransportErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"message_error","message_id":"msg_r1","error":"model overloaded","retryable":true}`)
	}))
	defer server.Close()

	transport := NewStreamTransport(server.URL, "", "conv_1")
	events, err := transport.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	got := collectEvents(t, events, 1)[0]
	if got.Type != stream.EventMessageError {
		t.Fatalf("Type = %v", got.Type)
	}
	if got.Err == nil || got.Err.Error() != "model overloaded" {
		t.Errorf("Err = %v", got.Err)
	}
	if !got.Retryable {
		t.Error("Retryable not carried through")
	}
}

func TestStreamTransportConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := NewStreamTransport(server.URL, "", "conv_1")
	if _, err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestStreamTransportContextCancel(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"message_chunk","message_id":"m","content":"x"}`)
		w.(http.Flusher).Flush()
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	transport := NewStreamTransport(server.URL, "", "conv_1")
	events, err := transport.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	collectEvents(t, events, 1)

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected channel close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel did not close after context cancel")
	}
}
