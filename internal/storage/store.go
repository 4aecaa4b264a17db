// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/tabchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrStoreClosed          = errors.New("store is closed")
)

// =============================================================================
// STORE
// =============================================================================

// Store persists conversations in a local SQLite database. All operations
// are safe for concurrent use; SQLite serializes writers and WAL keeps
// readers unblocked.
//
// RELIABILITY: the in-flight streaming message is never written. Only
// committed history reaches disk, so a crash mid-stream can never leave a
// partial assistant reply in a loaded conversation.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) the conversation database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:  db,
		log: logrus.WithField("component", "storage"),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveConversation upserts a conversation. The whole record is replaced,
// matching the last-write-wins semantics used for cross-tab conflict
// resolution. Writers run concurrently and unordered, so the update is
// guarded on updated_at: a snapshot older than the stored row is a no-op.
func (s *Store) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	history, err := json.Marshal(conv.CompressionHistory)
	if err != nil {
		return fmt.Errorf("failed to encode compression history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, title, model, created_at, updated_at, extended, messages, compression_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			updated_at = excluded.updated_at,
			extended = excluded.extended,
			messages = excluded.messages,
			compression_history = excluded.compression_history
		WHERE excluded.updated_at >= conversations.updated_at`,
		conv.ID, conv.Title, conv.Model,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		boolToInt(conv.Extended), string(messages), string(history),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, model, created_at, updated_at, extended, messages, compression_history
		FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return conv, err
}

// GetAllConversations loads every conversation, most recently updated first.
func (s *Store) GetAllConversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, created_at, updated_at, extended, messages, compression_history
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			// Skip corrupted rows rather than failing the whole load.
			s.log.WithError(err).Warn("skipping unreadable conversation row")
			continue
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteConversation removes a conversation by id.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		createdNs int64
		updatedNs int64
		extended  int
		messages  string
		history   string
	)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Model,
		&createdNs, &updatedNs, &extended, &messages, &history); err != nil {
		return nil, err
	}

	conv.CreatedAt = time.Unix(0, createdNs)
	conv.UpdatedAt = time.Unix(0, updatedNs)
	conv.Extended = extended != 0

	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &conv.CompressionHistory); err != nil {
		return nil, fmt.Errorf("failed to decode compression history: %w", err)
	}
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
