// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/tabchat/internal/model"
	"github.com/jeranaias/tabchat/internal/stream"
)

// Assembler applies streaming events to a conversation, building up the
// in-flight assistant message chunk by chunk.
//
// RELIABILITY: the assembler is strictly defensive about message identity.
// A chunk or end event whose message id does not match the current
// in-flight message is dropped, so a stale stream can never corrupt the
// reply being assembled. At most one message per conversation is ever
// in-flight, which the Conversation type enforces structurally.
type Assembler struct {
	log *logrus.Entry
}

// NewAssembler creates an Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		log: logrus.WithField("component", "assemble"),
	}
}

// ApplyStart begins assembling an assistant reply. It is accepted only when
// the conversation is waiting on one, meaning the last committed message is
// from the user and nothing is currently in-flight. A duplicate start for
// the message already in-flight is a no-op, so replayed events after a
// reconnect are harmless.
//
// Returns true if a new in-flight message was created.
func (a *Assembler) ApplyStart(conv *model.Conversation, ev stream.Event) bool {
	if inflight := conv.InFlight; inflight != nil {
		if inflight.ID == ev.MessageID {
			return false
		}
		a.log.WithFields(logrus.Fields{
			"conversation": conv.ID,
			"inflight":     inflight.ID,
			"message":      ev.MessageID,
		}).Warn("message start while another reply is in flight, dropping")
		return false
	}

	last := conv.LastMessage()
	if last == nil || last.Role != model.RoleUser {
		a.log.WithFields(logrus.Fields{
			"conversation": conv.ID,
			"message":      ev.MessageID,
		}).Debug("unsolicited message start, dropping")
		return false
	}

	conv.BeginAssistant(ev.MessageID, ev.CorrelationID)
	return true
}

// ApplyChunk appends streamed content to the in-flight message. Chunks for
// any other message id are dropped.
func (a *Assembler) ApplyChunk(conv *model.Conversation, ev stream.Event) bool {
	inflight := conv.InFlight
	if inflight == nil || inflight.ID != ev.MessageID {
		a.log.WithFields(logrus.Fields{
			"conversation": conv.ID,
			"message":      ev.MessageID,
		}).Debug("chunk for unknown message, dropping")
		return false
	}
	inflight.AppendChunk(ev.Content)
	return true
}

// ApplyEnd finalizes the in-flight message and commits it to history.
// Returns the finalized message, or nil if the event did not match.
func (a *Assembler) ApplyEnd(conv *model.Conversation, ev stream.Event) *model.Message {
	inflight := conv.InFlight
	if inflight == nil || inflight.ID != ev.MessageID {
		a.log.WithFields(logrus.Fields{
			"conversation": conv.ID,
			"message":      ev.MessageID,
		}).Debug("end for unknown message, dropping")
		return nil
	}
	return conv.FinalizeInFlight()
}

// ApplyError aborts the in-flight reply. The partial content is discarded
// and the user message that prompted it is marked retryable so the UI can
// offer a resend.
func (a *Assembler) ApplyError(conv *model.Conversation, ev stream.Event) {
	inflight := conv.InFlight
	if inflight == nil {
		return
	}
	if ev.MessageID != "" && inflight.ID != ev.MessageID {
		return
	}

	correlation := inflight.CorrelationID
	conv.AbortInFlight()

	if origin := conv.UserMessageByCorrelation(correlation); origin != nil {
		origin.Retryable = true
	}
	a.log.WithFields(logrus.Fields{
		"conversation": conv.ID,
		"message":      ev.MessageID,
	}).Warn("streaming reply failed, partial content discarded")
}
