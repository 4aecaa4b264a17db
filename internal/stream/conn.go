// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// maxConnectAttempts bounds automatic reconnection. After this many
	// consecutive failures the connection enters StateError and stays
	// there until Connect is called again.
	maxConnectAttempts = 5
)

// Conn is the connection state machine for a single conversation. It owns
// reconnection with exponential backoff and dispatches incoming events to
// registered handlers.
//
// RELIABILITY: handler registration is independent of the transport. On and
// Off take effect immediately without touching the underlying connection,
// and Disconnect leaves the registry intact so a later Connect resumes
// delivery to the same handlers.
type Conn struct {
	conversationID string
	transport      Transport
	log            *logrus.Entry

	// backoff computes the retry delay for a 0-based attempt index.
	// Overridable in tests.
	backoff func(attempt int) time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	handlersMu sync.RWMutex
	handlers   map[EventType]Handler
}

// NewConn creates a disconnected Conn for one conversation.
func NewConn(conversationID string, transport Transport) *Conn {
	return &Conn{
		conversationID: conversationID,
		transport:      transport,
		backoff:        calculateBackoff,
		state:          StateDisconnected,
		handlers:       map[EventType]Handler{},
		log: logrus.WithFields(logrus.Fields{
			"component":    "stream",
			"conversation": conversationID,
		}),
	}
}

// On registers the handler for an event type, replacing any previous one.
func (c *Conn) On(t EventType, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[t] = h
}

// Off removes the handler for an event type.
func (c *Conn) Off(t EventType) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, t)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. Calling Connect while already
// connecting, connected or reconnecting is a no-op. From StateError or
// StateDisconnected it starts a fresh attempt cycle.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.dispatch(Event{
		Type:           EventConnectionStateChange,
		ConversationID: c.conversationID,
		State:          StateConnecting,
	})
	go c.run(runCtx, done)
}

// Disconnect tears down the connection but keeps registered handlers.
// It blocks until the connection loop has fully stopped.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	// A loop that ended in StateError keeps it; error is terminal and an
	// explicit Disconnect of an errored conn means the same thing.
	if c.state != StateError {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
}

// run is the connection loop: connect, drain events, reconnect with backoff
// on loss, give up after maxConnectAttempts consecutive failures.
func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.transitionTo(StateDisconnected)
			return
		}

		events, err := c.transport.Connect(ctx)
		if err != nil {
			attempt++
			c.log.WithError(err).WithField("attempt", attempt).Warn("connect failed")
			c.dispatch(Event{
				Type:           EventConnectionError,
				ConversationID: c.conversationID,
				Attempt:        attempt,
				Err:            err,
			})
			if attempt >= maxConnectAttempts {
				c.log.Error("reconnection attempts exhausted")
				c.transitionTo(StateError)
				return
			}
			c.transitionTo(StateReconnecting)
			if !c.sleep(ctx, c.backoff(attempt-1)) {
				c.transitionTo(StateDisconnected)
				return
			}
			continue
		}

		attempt = 0
		c.transitionTo(StateConnected)

		for ev := range events {
			ev.ConversationID = c.conversationID
			c.dispatch(ev)
		}

		if ctx.Err() != nil {
			c.transitionTo(StateDisconnected)
			return
		}
		c.log.Info("connection lost, reconnecting")
		c.transitionTo(StateReconnecting)
	}
}

// transitionTo updates the state and notifies the state-change handler.
func (c *Conn) transitionTo(s State) {
	c.mu.Lock()
	changed := c.state != s
	if changed {
		c.setStateLocked(s)
	}
	c.mu.Unlock()
	if !changed {
		return
	}
	c.dispatch(Event{
		Type:           EventConnectionStateChange,
		ConversationID: c.conversationID,
		State:          s,
	})
}

func (c *Conn) setStateLocked(s State) {
	c.state = s
}

// dispatch delivers an event to its registered handler, if any.
// RELIABILITY: a panicking handler must not take down the connection loop.
func (c *Conn) dispatch(ev Event) {
	c.handlersMu.RLock()
	h := c.handlers[ev.Type]
	c.handlersMu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("event", ev.Type).Errorf("handler panic: %v", r)
		}
	}()
	h(ev)
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// calculateBackoff returns the delay before the next connection attempt.
// Exponential: 500ms, 1000ms, 2000ms, ... capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
