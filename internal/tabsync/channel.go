// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tabsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/util"
)

// staleEventAge is how long a broadcast file lives before its originator
// removes it. Long enough for every running instance to pick it up.
const staleEventAge = 30 * time.Second

// Channel broadcasts conversation mutations between running instances.
type Channel interface {
	// Initialize starts listening for events from other instances.
	Initialize() error

	// Subscribe registers a handler for incoming events. The returned
	// function unsubscribes it.
	Subscribe(handler func(SyncEvent)) (unsubscribe func())

	// TabID identifies this instance in outgoing events.
	TabID() string

	BroadcastCreation(conv *model.Conversation) error
	BroadcastUpdate(conv *model.Conversation) error
	BroadcastDeletion(conversationID string) error

	// Destroy stops listening and cleans up this instance's own events.
	Destroy() error
}

// =============================================================================
// FILE CHANNEL
// =============================================================================

// FileChannel implements Channel over a shared spool directory. Each
// broadcast is one JSON file written atomically; other instances pick it up
// via filesystem change notification.
//
// RELIABILITY: events are written with util.AtomicWriteFile, so a watcher
// in another instance can never observe a half-written event file. The
// rename that completes the write is the only thing fsnotify reports for
// the final name.
type FileChannel struct {
	dir   string
	tabID string
	log   *logrus.Entry

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.Mutex
	nextSub  int
	subs     map[int]func(SyncEvent)
	ownFiles map[string]time.Time
	closed   bool
}

// NewFileChannel creates a FileChannel over the given spool directory.
// Instances that share the directory see each other's events.
func NewFileChannel(dir string) *FileChannel {
	tabID := uuid.NewString()
	return &FileChannel{
		dir:      dir,
		tabID:    tabID,
		subs:     map[int]func(SyncEvent){},
		ownFiles: map[string]time.Time{},
		log: logrus.WithFields(logrus.Fields{
			"component": "tabsync",
			"tab":       tabID,
		}),
	}
}

// TabID returns this instance's identifier.
func (c *FileChannel) TabID() string {
	return c.tabID
}

// Initialize creates the spool directory and starts the watcher. Event
// files already present are ignored; only events broadcast after this
// point are delivered.
func (c *FileChannel) Initialize() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create sync directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch sync directory: %w", err)
	}

	c.watcher = watcher
	c.done = make(chan struct{})
	go c.processEvents()
	return nil
}

// Subscribe registers a handler for events from other instances.
func (c *FileChannel) Subscribe(handler func(SyncEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// BroadcastCreation announces a newly created conversation with its full
// snapshot embedded, so receivers can materialize it without a storage
// round-trip.
func (c *FileChannel) BroadcastCreation(conv *model.Conversation) error {
	return c.broadcast(SyncEvent{
		Type:           SyncCreate,
		ConversationID: conv.ID,
		Conversation:   conv.Clone(),
	})
}

// BroadcastUpdate announces a mutated conversation.
func (c *FileChannel) BroadcastUpdate(conv *model.Conversation) error {
	return c.broadcast(SyncEvent{
		Type:           SyncUpdate,
		ConversationID: conv.ID,
		Conversation:   conv.Clone(),
	})
}

// BroadcastDeletion announces a deleted conversation.
func (c *FileChannel) BroadcastDeletion(conversationID string) error {
	return c.broadcast(SyncEvent{
		Type:           SyncDelete,
		ConversationID: conversationID,
	})
}

func (c *FileChannel) broadcast(ev SyncEvent) error {
	ev.SourceTabID = c.tabID
	ev.Timestamp = time.Now()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode sync event: %w", err)
	}

	name := fmt.Sprintf("%s_%d.json", c.tabID, time.Now().UnixNano())
	path := filepath.Join(c.dir, name)
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sync event: %w", err)
	}

	c.mu.Lock()
	c.ownFiles[path] = time.Now()
	c.mu.Unlock()
	c.cleanStale()
	return nil
}

// cleanStale removes this instance's own event files that every other
// instance has had ample time to read. Each instance only ever deletes
// files it wrote itself.
func (c *FileChannel) cleanStale() {
	cutoff := time.Now().Add(-staleEventAge)
	c.mu.Lock()
	var stale []string
	for path, written := range c.ownFiles {
		if written.Before(cutoff) {
			stale = append(stale, path)
			delete(c.ownFiles, path)
		}
	}
	c.mu.Unlock()

	for _, path := range stale {
		os.Remove(path)
	}
}

// processEvents drains watcher notifications and dispatches decoded events.
func (c *FileChannel) processEvents() {
	for {
		select {
		case <-c.done:
			return
		case fsEvent, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			// Atomic writes surface as a Create of the final name.
			if !fsEvent.Op.Has(fsnotify.Create) && !fsEvent.Op.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(fsEvent.Name, ".json") {
				continue
			}
			c.handleFile(fsEvent.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.WithError(err).Warn("watcher error")
		}
	}
}

func (c *FileChannel) handleFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// The originator may have already cleaned it up.
		return
	}

	var ev SyncEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.WithError(err).WithField("file", filepath.Base(path)).Debug("skipping malformed sync event")
		return
	}

	// No self-echo: a tab must never react to its own broadcasts.
	if ev.SourceTabID == c.tabID {
		return
	}

	c.mu.Lock()
	handlers := make([]func(SyncEvent), 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Destroy stops the watcher and removes this instance's remaining events.
func (c *FileChannel) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	own := make([]string, 0, len(c.ownFiles))
	for path := range c.ownFiles {
		own = append(own, path)
	}
	c.ownFiles = map[string]time.Time{}
	c.mu.Unlock()

	if c.done != nil {
		close(c.done)
	}
	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	for _, path := range own {
		os.Remove(path)
	}
	return err
}

// =============================================================================
// NOOP CHANNEL
// =============================================================================

// NoopChannel satisfies Channel when cross-instance sync is disabled.
type NoopChannel struct {
	tabID string
}

// NewNoopChannel creates a disabled channel.
func NewNoopChannel() *NoopChannel {
	return &NoopChannel{tabID: uuid.NewString()}
}

func (n *NoopChannel) Initialize() error                             { return nil }
func (n *NoopChannel) Subscribe(func(SyncEvent)) func()              { return func() {} }
func (n *NoopChannel) TabID() string                                 { return n.tabID }
func (n *NoopChannel) BroadcastCreation(*model.Conversation) error   { return nil }
func (n *NoopChannel) BroadcastUpdate(*model.Conversation) error     { return nil }
func (n *NoopChannel) BroadcastDeletion(string) error                { return nil }
func (n *NoopChannel) Destroy() error                                { return nil }
