// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/tabchat/internal/assemble"
	"github.com/jeranaias/tabchat/internal/budget"
	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/storage"
	"github.com/jeranaias/tabchat/internal/stream"
	"github.com/jeranaias/tabchat/internal/tabsync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSendRateLimited indicates sends are arriving faster than allowed.
	ErrSendRateLimited = errors.New("sending too fast, slow down")

	// ErrNotRetryable indicates a retry was requested for a message that
	// never failed.
	ErrNotRetryable = errors.New("message is not retryable")

	// ErrConversationNotOpen indicates an operation on a conversation the
	// session does not hold.
	ErrConversationNotOpen = errors.New("conversation not open in this session")

	// ErrStreamBusy indicates a send while a reply is still assembling.
	ErrStreamBusy = errors.New("a reply is still streaming")
)

// persistTimeout bounds background storage writes.
const persistTimeout = 5 * time.Second

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Sender posts user messages to the backend.
type Sender interface {
	SendMessage(ctx context.Context, conversationID string, msg *model.Message) error
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator wires the four subsystems together per conversation: the
// connection state machine feeds the assembler, every mutation recomputes
// the budget, and committed mutations are persisted and broadcast to other
// instances. It is the surface a UI layer consumes.
//
// Ownership model: the live mutable conversations exist only in the
// orchestrator's own map, and every mutation of one happens under o.mu.
// What the Store publishes to subscribers are immutable snapshots cloned
// inside the same critical section as the mutation, so readers on other
// goroutines never observe a conversation mid-write and a stale snapshot
// can never overwrite a newer one.
type Orchestrator struct {
	mu   sync.Mutex
	live map[string]*model.Conversation

	store     *Store
	db        *storage.Store
	streams   *stream.Manager
	assembler *assemble.Assembler
	engine    *budget.Engine
	limits    *budget.LimitCache
	warnings  *budget.WarningTracker
	channel   tabsync.Channel
	syncer    *tabsync.Syncer
	sender    Sender
	limiter   *rate.Limiter

	defaultModel     string
	warningThreshold int
	log              *logrus.Entry
}

// Config assembles an Orchestrator's collaborators.
type Config struct {
	DB      *storage.Store // may be nil: in-memory only
	Streams *stream.Manager
	Engine  *budget.Engine
	Limits  *budget.LimitCache
	Channel tabsync.Channel
	Sender  Sender

	DefaultModel     string
	WarningThreshold int // percent; 0 uses budget.DefaultWarningThreshold

	// SendsPerSecond throttles outgoing messages. 0 means 2/s.
	SendsPerSecond float64
}

// NewOrchestrator creates an orchestrator. Call Start before use.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = budget.DefaultWarningThreshold
	}
	if cfg.SendsPerSecond <= 0 {
		cfg.SendsPerSecond = 2
	}
	o := &Orchestrator{
		live:             make(map[string]*model.Conversation),
		store:            NewStore(),
		db:               cfg.DB,
		streams:          cfg.Streams,
		assembler:        assemble.NewAssembler(),
		engine:           cfg.Engine,
		limits:           cfg.Limits,
		warnings:         budget.NewWarningTracker(),
		channel:          cfg.Channel,
		sender:           cfg.Sender,
		limiter:          rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 3),
		defaultModel:     cfg.DefaultModel,
		warningThreshold: cfg.WarningThreshold,
		log:              logrus.WithField("component", "session"),
	}
	var loader tabsync.ConversationLoader
	if cfg.DB != nil {
		loader = cfg.DB
	}
	o.syncer = tabsync.NewSyncer(cfg.Channel, loader, tabsync.Hooks{
		Lookup: o.lookupForSync,
		Apply:  o.applyRemote,
		Remove: o.removeRemote,
	})
	return o
}

// Store exposes the session state for subscribers. Conversations read from
// it are immutable snapshots; callers must not mutate them.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Start loads persisted conversations and joins the sync channel.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.db != nil {
		conversations, err := o.db.GetAllConversations(ctx)
		if err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}
		for _, conv := range conversations {
			o.mu.Lock()
			o.live[conv.ID] = conv
			snap := o.publishLocked(conv)
			o.mu.Unlock()
			o.recomputeUsage(ctx, snap)
		}
	}

	if err := o.channel.Initialize(); err != nil {
		return fmt.Errorf("failed to join sync channel: %w", err)
	}
	o.syncer.Start()
	return nil
}

// Close tears down connections and leaves the sync channel. The database
// handle is owned by the caller.
func (o *Orchestrator) Close() {
	o.syncer.Stop()
	o.streams.CloseAll()
	if err := o.channel.Destroy(); err != nil {
		o.log.WithError(err).Warn("sync channel teardown failed")
	}
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// NewConversation creates a conversation, persists it and announces it to
// other instances. Returns a snapshot.
func (o *Orchestrator) NewConversation(ctx context.Context, modelID string) *model.Conversation {
	if modelID == "" {
		modelID = o.defaultModel
	}
	conv := model.NewConversation(modelID)

	o.mu.Lock()
	o.live[conv.ID] = conv
	snap := o.publishLocked(conv)
	o.mu.Unlock()

	o.recomputeUsage(ctx, snap)
	o.persistAsync(snap)
	if err := o.channel.BroadcastCreation(snap); err != nil {
		o.log.WithError(err).Warn("creation broadcast failed")
	}
	return snap
}

// OpenConversation focuses a conversation and brings up its stream.
// Returns a snapshot.
func (o *Orchestrator) OpenConversation(ctx context.Context, id string) (*model.Conversation, error) {
	o.mu.Lock()
	conv := o.live[id]
	o.mu.Unlock()

	if conv == nil && o.db != nil {
		loaded, err := o.db.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		// Another goroutine may have installed it while we read storage.
		if cur := o.live[id]; cur != nil {
			conv = cur
		} else {
			o.live[id] = loaded
			conv = loaded
		}
		o.mu.Unlock()
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotOpen, id)
	}

	o.store.SetActive(id)
	o.mu.Lock()
	snap := o.publishLocked(conv)
	o.mu.Unlock()
	o.recomputeUsage(ctx, snap)
	o.connectStream(ctx, id)
	return snap, nil
}

// DeleteConversation removes a conversation everywhere: session, durable
// store, other instances.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) {
	o.streams.Remove(id)
	o.mu.Lock()
	delete(o.live, id)
	o.mu.Unlock()
	o.store.Remove(id)
	o.warnings.Reset(id)
	if o.db != nil {
		if err := o.db.DeleteConversation(ctx, id); err != nil && !errors.Is(err, storage.ErrConversationNotFound) {
			o.log.WithError(err).Warn("delete persist failed")
		}
	}
	if err := o.channel.BroadcastDeletion(id); err != nil {
		o.log.WithError(err).Warn("deletion broadcast failed")
	}
}

// connectStream registers stream handlers and connects. Safe to call
// repeatedly; handler registration replaces in place and Connect is
// idempotent.
func (o *Orchestrator) connectStream(ctx context.Context, conversationID string) {
	conn := o.streams.Conn(conversationID)
	conn.On(stream.EventMessageStart, o.onStreamEvent)
	conn.On(stream.EventMessageChunk, o.onStreamEvent)
	conn.On(stream.EventMessageEnd, o.onStreamEvent)
	conn.On(stream.EventMessageError, o.onStreamEvent)
	conn.On(stream.EventConnectionStateChange, func(ev stream.Event) {
		o.store.SetConnState(ev.ConversationID, ev.State)
	})
	conn.On(stream.EventConnectionError, func(ev stream.Event) {
		o.log.WithError(ev.Err).WithFields(logrus.Fields{
			"conversation": ev.ConversationID,
			"attempt":      ev.Attempt,
		}).Warn("connection attempt failed")
	})
	conn.Connect(ctx)
}

// Reconnect restarts a stream parked in the terminal error state.
func (o *Orchestrator) Reconnect(ctx context.Context, conversationID string) {
	o.connectStream(ctx, conversationID)
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage appends a user message and posts it to the backend. The
// assistant reply arrives over the stream, linked by a fresh correlation id.
// The returned message is a snapshot.
func (o *Orchestrator) SendMessage(ctx context.Context, conversationID, content string, attachments ...model.Attachment) (*model.Message, error) {
	if !o.limiter.Allow() {
		return nil, ErrSendRateLimited
	}

	o.mu.Lock()
	conv := o.live[conversationID]
	if conv == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConversationNotOpen, conversationID)
	}
	if conv.IsStreaming() {
		o.mu.Unlock()
		return nil, ErrStreamBusy
	}

	msg := model.NewUserMessage(conversationID, content)
	msg.CorrelationID = uuid.NewString()
	msg.Attachments = attachments
	conv.AppendMessage(msg)
	snap := o.publishLocked(conv)
	o.mu.Unlock()

	o.finishMutation(ctx, snap, true)

	if err := o.sender.SendMessage(ctx, conversationID, snap.MessageByID(msg.ID)); err != nil {
		// RELIABILITY: the retryable flag must survive a restart, so the
		// failure path runs the same persist-and-broadcast tail as the
		// stream-error path.
		failed := o.setRetryable(conversationID, msg.ID, true)
		if failed != nil {
			o.finishMutation(ctx, failed, true)
			if m := failed.MessageByID(msg.ID); m != nil {
				return m, fmt.Errorf("send failed: %w", err)
			}
		}
		return nil, fmt.Errorf("send failed: %w", err)
	}
	return snap.MessageByID(msg.ID), nil
}

// Retry resends a failed user message, keeping its correlation id so a
// late reply to the original send still matches.
func (o *Orchestrator) Retry(ctx context.Context, conversationID, messageID string) error {
	o.mu.Lock()
	conv := o.live[conversationID]
	if conv == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotOpen, conversationID)
	}
	msg := conv.MessageByID(messageID)
	if msg == nil || !msg.Retryable {
		o.mu.Unlock()
		return ErrNotRetryable
	}
	msg.Retryable = false
	conv.Touch()
	snap := o.publishLocked(conv)
	o.mu.Unlock()

	o.finishMutation(ctx, snap, true)

	if err := o.sender.SendMessage(ctx, conversationID, snap.MessageByID(messageID)); err != nil {
		if failed := o.setRetryable(conversationID, messageID, true); failed != nil {
			o.finishMutation(ctx, failed, true)
		}
		return fmt.Errorf("retry failed: %w", err)
	}
	return nil
}

// setRetryable flips the retryable flag on a history message and publishes
// the result. The conversation is looked up fresh: a remote snapshot may
// have replaced it while the send was outstanding. Returns nil when the
// conversation or message no longer exists.
func (o *Orchestrator) setRetryable(conversationID, messageID string, retryable bool) *model.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	conv := o.live[conversationID]
	if conv == nil {
		return nil
	}
	msg := conv.MessageByID(messageID)
	if msg == nil {
		return nil
	}
	msg.Retryable = retryable
	conv.Touch()
	return o.publishLocked(conv)
}

// =============================================================================
// STREAM EVENT APPLICATION
// =============================================================================

// onStreamEvent routes one stream event through the assembler. Mutation
// and snapshot publication share one critical section so an interleaved
// sync apply can never be overwritten by stale local state.
func (o *Orchestrator) onStreamEvent(ev stream.Event) {
	ctx := context.Background()

	o.mu.Lock()
	conv := o.live[ev.ConversationID]
	if conv == nil {
		o.mu.Unlock()
		o.log.WithField("conversation", ev.ConversationID).Debug("event for unknown conversation, dropping")
		return
	}

	var finalized *model.Message
	switch ev.Type {
	case stream.EventMessageStart:
		o.assembler.ApplyStart(conv, ev)
	case stream.EventMessageChunk:
		o.assembler.ApplyChunk(conv, ev)
	case stream.EventMessageEnd:
		finalized = o.assembler.ApplyEnd(conv, ev)
	case stream.EventMessageError:
		o.assembler.ApplyError(conv, ev)
	}
	snap := o.publishLocked(conv)
	o.mu.Unlock()

	o.recomputeUsage(ctx, snap)

	// Only committed history is persisted and broadcast. Chunk-by-chunk
	// persistence would thrash storage and leak partial replies.
	if finalized != nil || ev.Type == stream.EventMessageError {
		o.persistAsync(snap)
		o.broadcastUpdate(snap)
	}
}

// =============================================================================
// BUDGET REMEDIATION
// =============================================================================

// ExtendContext widens the conversation's context window.
func (o *Orchestrator) ExtendContext(ctx context.Context, conversationID string) (budget.ExtendResult, error) {
	o.mu.Lock()
	conv := o.live[conversationID]
	if conv == nil {
		o.mu.Unlock()
		return budget.ExtendResult{}, fmt.Errorf("%w: %s", ErrConversationNotOpen, conversationID)
	}
	// The engine works on a snapshot: its backend call must not hold o.mu,
	// and the live conversation may advance while the call is out.
	work := conv.Clone()
	o.mu.Unlock()

	result, err := o.engine.Extend(ctx, work)
	if err != nil {
		return result, err
	}

	o.warnings.Reset(conversationID)
	o.mu.Lock()
	var snap *model.Conversation
	if cur := o.live[conversationID]; cur != nil {
		cur.Extended = true
		cur.Touch()
		snap = o.publishLocked(cur)
	}
	o.mu.Unlock()
	if snap != nil {
		o.finishMutation(ctx, snap, true)
	}
	return result, nil
}

// CompressPreview requests a compression preview without mutating anything.
func (o *Orchestrator) CompressPreview(ctx context.Context, conversationID string, opts budget.CompressOptions) (budget.CompressionResult, error) {
	o.mu.Lock()
	conv := o.live[conversationID]
	if conv == nil {
		o.mu.Unlock()
		return budget.CompressionResult{}, fmt.Errorf("%w: %s", ErrConversationNotOpen, conversationID)
	}
	work := conv.Clone()
	o.mu.Unlock()
	return o.engine.Compress(ctx, work, opts)
}

// CompressCommit materializes an accepted preview as a new conversation and
// focuses it. The original conversation is left untouched. Returns a
// snapshot of the new conversation.
func (o *Orchestrator) CompressCommit(ctx context.Context, conversationID string, res budget.CompressionResult, title string) (*model.Conversation, error) {
	o.mu.Lock()
	conv := o.live[conversationID]
	if conv == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConversationNotOpen, conversationID)
	}
	work := conv.Clone()
	o.mu.Unlock()

	newConv, err := o.engine.Commit(ctx, work, res, title)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.live[newConv.ID] = newConv
	snap := o.publishLocked(newConv)
	o.mu.Unlock()

	o.store.SetActive(newConv.ID)
	o.recomputeUsage(ctx, snap)
	o.persistAsync(snap)
	if bErr := o.channel.BroadcastCreation(snap); bErr != nil {
		o.log.WithError(bErr).Warn("creation broadcast failed")
	}
	o.connectStream(ctx, newConv.ID)
	return snap, nil
}

// =============================================================================
// BUDGET TRACKING
// =============================================================================

// recomputeUsage refreshes a conversation's usage numbers and surfaces a
// warning the first time a severity level is crossed. snap must be an
// immutable snapshot; limit resolution may call the backend.
func (o *Orchestrator) recomputeUsage(ctx context.Context, snap *model.Conversation) {
	limits := o.limits.Resolve(ctx, snap.Model)
	usage := budget.ComputeUsage(snap, limits, o.warningThreshold)
	o.store.SetUsage(snap.ID, usage)

	level := usage.WarningLevel()
	if o.warnings.ShouldSurface(snap.ID, level) {
		o.log.WithFields(logrus.Fields{
			"conversation": snap.ID,
			"percent":      fmt.Sprintf("%.1f", usage.Percent()),
			"level":        string(level),
		}).Warn("context budget threshold crossed")
		o.store.SurfaceWarning(snap.ID, usage, level)
	}
}

// publishLocked clones the live conversation into the store. Caller must
// hold o.mu; the returned snapshot is immutable and safe to hand to any
// goroutine.
func (o *Orchestrator) publishLocked(conv *model.Conversation) *model.Conversation {
	snap := conv.Clone()
	o.store.Put(snap)
	return snap
}

// finishMutation is the shared tail of every committed local mutation:
// refresh budget, persist, broadcast. Runs outside o.mu on a snapshot.
func (o *Orchestrator) finishMutation(ctx context.Context, snap *model.Conversation, broadcast bool) {
	o.recomputeUsage(ctx, snap)
	o.persistAsync(snap)
	if broadcast {
		o.broadcastUpdate(snap)
	}
}

func (o *Orchestrator) broadcastUpdate(snap *model.Conversation) {
	if err := o.channel.BroadcastUpdate(snap); err != nil {
		o.log.WithError(err).Warn("update broadcast failed")
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistAsync writes a snapshot in the background. Storage failures are
// logged and otherwise ignored; in-memory state stays authoritative.
func (o *Orchestrator) persistAsync(snap *model.Conversation) {
	if o.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.db.SaveConversation(ctx, snap); err != nil {
			o.log.WithError(err).WithField("conversation", snap.ID).Warn("persist failed")
		}
	}()
}

// =============================================================================
// SYNC HOOKS
// =============================================================================

// lookupForSync hands the resolver the published snapshot, which carries
// the same UpdatedAt and message count as the live copy and is safe to
// read from the sync goroutine.
func (o *Orchestrator) lookupForSync(id string) *model.Conversation {
	return o.store.Conversation(id)
}

// applyRemote installs a winning remote snapshot. It is persisted locally
// but not re-broadcast, which would echo forever between instances. A
// remote snapshot never carries in-flight state; if this instance is
// mid-stream, the local in-flight reply is grafted onto the applied copy
// so the live stream keeps assembling.
func (o *Orchestrator) applyRemote(conv *model.Conversation) {
	o.mu.Lock()
	if existing := o.live[conv.ID]; existing != nil && existing.InFlight != nil {
		conv.InFlight = existing.InFlight
	}
	o.live[conv.ID] = conv
	snap := o.publishLocked(conv)
	o.mu.Unlock()

	o.recomputeUsage(context.Background(), snap)
	o.persistAsync(snap)
}

func (o *Orchestrator) removeRemote(id string) {
	o.streams.Remove(id)
	o.mu.Lock()
	delete(o.live, id)
	o.mu.Unlock()
	o.store.Remove(id)
	o.warnings.Reset(id)
	if o.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.db.DeleteConversation(ctx, id); err != nil && !errors.Is(err, storage.ErrConversationNotFound) {
			o.log.WithError(err).Warn("remote delete persist failed")
		}
	}
}
