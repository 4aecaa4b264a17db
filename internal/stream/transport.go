// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "context"

// Transport establishes one streaming connection attempt and delivers its
// events on a channel.
//
// Contract: Connect blocks until the connection is established or fails.
// After success, events flow on the returned channel until the connection is
// lost, at which point the implementation MUST close the channel. When ctx
// is cancelled the implementation must also close the channel promptly.
// A closed channel is the only loss signal the state machine watches.
type Transport interface {
	Connect(ctx context.Context) (<-chan Event, error)
}

// TransportFactory produces a Transport bound to one conversation.
type TransportFactory func(conversationID string) Transport
