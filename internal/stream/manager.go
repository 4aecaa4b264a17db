// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "sync"

// Manager lazily creates one Conn per conversation and hands back the same
// instance on repeated lookups, so handler registrations and connection
// state survive across UI navigation.
type Manager struct {
	factory TransportFactory

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewManager creates a Manager that builds transports with factory.
func NewManager(factory TransportFactory) *Manager {
	return &Manager{
		factory: factory,
		conns:   map[string]*Conn{},
	}
}

// Conn returns the connection for a conversation, creating it on first use.
func (m *Manager) Conn(conversationID string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[conversationID]; ok {
		return c
	}
	c := NewConn(conversationID, m.factory(conversationID))
	m.conns[conversationID] = c
	return c
}

// Remove disconnects and forgets the connection for a conversation.
func (m *Manager) Remove(conversationID string) {
	m.mu.Lock()
	c, ok := m.conns[conversationID]
	delete(m.conns, conversationID)
	m.mu.Unlock()
	if ok {
		c.Disconnect()
	}
}

// CloseAll disconnects every managed connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = map[string]*Conn{}
	m.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}
