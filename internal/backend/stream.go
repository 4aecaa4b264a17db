// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/stream"
)

// =============================================================================
// STREAM TRANSPORT
// =============================================================================

// wireEvent is one newline-delimited JSON line on the event stream.
type wireEvent struct {
	Type          string `json:"type"`
	MessageID     string `json:"message_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Content       string `json:"content,omitempty"`
	Error         string `json:"error,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

// StreamTransport implements stream.Transport over the backend's NDJSON
// event stream for one conversation.
//
// It deliberately uses its own http.Client without a request timeout, since
// a healthy stream stays open indefinitely. Cancellation comes from the
// Connect context.
type StreamTransport struct {
	baseURL        string
	apiKey         string
	conversationID string
	httpClient     *http.Client
	log            *logrus.Entry
}

// NewStreamTransport creates a transport for one conversation's stream.
func NewStreamTransport(baseURL, apiKey, conversationID string) *StreamTransport {
	return &StreamTransport{
		baseURL:        baseURL,
		apiKey:         apiKey,
		conversationID: conversationID,
		httpClient:     &http.Client{},
		log: logrus.WithFields(logrus.Fields{
			"component":    "backend",
			"conversation": conversationID,
		}),
	}
}

// StreamTransportFactory returns a factory producing stream transports that
// share this client's configuration.
func (c *Client) StreamTransportFactory() stream.TransportFactory {
	return func(conversationID string) stream.Transport {
		return NewStreamTransport(c.baseURL, c.apiKey, conversationID)
	}
}

// Connect opens the event stream. The returned channel closes when the
// stream ends for any reason, which the connection state machine treats as
// connection loss.
func (t *StreamTransport) Connect(ctx context.Context) (<-chan stream.Event, error) {
	if t.baseURL == "" {
		return nil, ErrNotConfigured
	}

	url := fmt.Sprintf("%s/v1/conversations/%s/stream", t.baseURL, t.conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream connect failed: %w", err)
	}
	if err := checkStatus(resp, ErrConversationNotFound); err != nil {
		resp.Body.Close()
		return nil, err
	}

	events := make(chan stream.Event)
	go t.readLoop(ctx, resp.Body, events)
	return events, nil
}

// readLoop decodes NDJSON lines into events until the stream ends.
func (t *StreamTransport) readLoop(ctx context.Context, body io.ReadCloser, events chan<- stream.Event) {
	defer close(events)
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 1 {
			ev, ok := t.decodeLine(line)
			if ok {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				t.log.WithError(err).Debug("stream read ended")
			}
			return
		}
	}
}

// decodeLine parses one wire line. Malformed lines are dropped and logged,
// never surfaced to the caller.
func (t *StreamTransport) decodeLine(line []byte) (stream.Event, bool) {
	var wire wireEvent
	if err := json.Unmarshal(line, &wire); err != nil {
		t.log.WithError(err).Debug("skipping malformed stream line")
		return stream.Event{}, false
	}

	ev := stream.Event{
		MessageID:     wire.MessageID,
		CorrelationID: wire.CorrelationID,
		Content:       wire.Content,
		Retryable:     wire.Retryable,
	}
	switch wire.Type {
	case "message_start":
		ev.Type = stream.EventMessageStart
	case "message_chunk":
		ev.Type = stream.EventMessageChunk
	case "message_end":
		ev.Type = stream.EventMessageEnd
	case "message_error":
		ev.Type = stream.EventMessageError
		ev.Err = errors.New(wire.Error)
	default:
		t.log.WithField("type", wire.Type).Debug("skipping unknown stream event type")
		return stream.Event{}, false
	}
	return ev, true
}
