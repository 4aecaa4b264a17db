// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the chat backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize limits response bodies read into memory.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// maxRetries bounds retry attempts for transient request failures.
	maxRetries = 3
)

// retryBaseDelay is the base delay for exponential backoff. Variable so
// tests can shrink it.
var retryBaseDelay = 1 * time.Second

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates no backend URL was configured.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrServerError indicates a 5xx response from the backend.
	ErrServerError = errors.New("backend server error")

	// ErrModelNotFound indicates the requested model id is unknown.
	ErrModelNotFound = errors.New("model not found")

	// ErrConversationNotFound indicates an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend's REST API. It implements the budget
// package's Remediator and ModelInfoProvider contracts.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a backend client. timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logrus.WithField("component", "backend"),
	}
}

// IsConfigured reports whether a backend URL is set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// MESSAGE SEND
// =============================================================================

// sendMessageRequest is the wire shape for posting a user message.
type sendMessageRequest struct {
	Content       string             `json:"content"`
	CorrelationID string             `json:"correlation_id"`
	Attachments   []model.Attachment `json:"attachments,omitempty"`
	Model         string             `json:"model,omitempty"`
}

// SendMessage posts a user message. The assistant reply arrives over the
// conversation's event stream, correlated by correlationID, not in this
// response.
func (c *Client) SendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	req := sendMessageRequest{
		Content:       msg.Content,
		CorrelationID: msg.CorrelationID,
		Attachments:   msg.Attachments,
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	return c.doJSON(ctx, http.MethodPost, path, req, nil, ErrConversationNotFound)
}

// =============================================================================
// CONTEXT REMEDIATION
// =============================================================================

// ExtendContext asks the backend to widen the conversation's context window.
func (c *Client) ExtendContext(ctx context.Context, conversationID string) (budget.ExtendResult, error) {
	var result budget.ExtendResult
	path := fmt.Sprintf("/v1/conversations/%s/extend", conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &result, ErrConversationNotFound); err != nil {
		return budget.ExtendResult{}, err
	}
	return result, nil
}

// compressResponse is the wire shape of a compression preview.
type compressResponse struct {
	CompressedContext string  `json:"compressed_context"`
	OriginalTokens    int     `json:"original_tokens"`
	CompressedTokens  int     `json:"compressed_tokens"`
	CompressionRatio  float64 `json:"compression_ratio"`
}

// CompressConversation requests a compression preview. Nothing changes on
// the backend until the preview is committed.
func (c *Client) CompressConversation(ctx context.Context, conversationID string, opts budget.CompressOptions) (budget.CompressionResult, error) {
	var resp compressResponse
	path := fmt.Sprintf("/v1/conversations/%s/compress", conversationID)
	if err := c.doJSON(ctx, http.MethodPost, path, opts, &resp, ErrConversationNotFound); err != nil {
		return budget.CompressionResult{}, err
	}
	return budget.CompressionResult{
		CompressedContext: resp.CompressedContext,
		OriginalTokens:    resp.OriginalTokens,
		CompressedTokens:  resp.CompressedTokens,
		CompressionRatio:  resp.CompressionRatio,
		Event:             model.NewCompressionEvent(opts.Method, resp.OriginalTokens, resp.CompressedTokens),
	}, nil
}

// createConversationRequest commits a compression preview.
type createConversationRequest struct {
	OriginalID        string `json:"original_id"`
	CompressedContext string `json:"compressed_context"`
	Title             string `json:"title"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

// CreateCompressedConversation commits a compression preview as a new
// conversation and returns the backend-assigned id.
func (c *Client) CreateCompressedConversation(ctx context.Context, originalID, compressedContext, title string) (string, error) {
	req := createConversationRequest{
		OriginalID:        originalID,
		CompressedContext: compressedContext,
		Title:             title,
	}
	var resp createConversationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/conversations", req, &resp, ErrConversationNotFound); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("backend returned no conversation id")
	}
	return resp.ID, nil
}

// =============================================================================
// MODEL INFO
// =============================================================================

// ModelByID fetches model metadata, seeding the limit cache for models
// missing from the static table.
func (c *Client) ModelByID(ctx context.Context, id string) (budget.ModelInfo, error) {
	var info budget.ModelInfo
	path := fmt.Sprintf("/v1/models/%s", id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &info, ErrModelNotFound); err != nil {
		return budget.ModelInfo{}, err
	}
	return info, nil
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// doJSON performs a JSON request with retry on transient failures.
// notFound is the sentinel a 404 maps to; the caller knows whether the
// path names a model or a conversation, the response body does not say.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, notFound error) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.log.WithFields(logrus.Fields{
				"path":    path,
				"attempt": attempt + 1,
			}).Debug("retrying request")
		}

		err := c.doOnce(ctx, method, path, payload, out, notFound)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any, notFound error) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, notFound); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError is the backend's error envelope.
type apiError struct {
	Error string `json:"error"`
}

func checkStatus(resp *http.Response, notFound error) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var detail apiError
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&detail)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, detail.Error)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", notFound, detail.Error)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServerError, resp.StatusCode, detail.Error)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail.Error)
	}
}

// isRetryable reports whether a request should be retried.
func isRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}
