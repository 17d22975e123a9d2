// Package thread persists conversation state, one row per thread.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov/ragent/internal/loop"
)

var ErrPoolNil = errors.New("thread: connection pool is required")

// Meta describes a stored thread without loading its messages.
type Meta struct {
	ID        uuid.UUID
	Messages  int
	UpdatedAt time.Time
}

// Store reads and writes conversation state in PostgreSQL. The whole state
// is stored as one JSONB document per thread: threads are small after
// summarization, and single-row replacement keeps saves atomic.
//
// Store is safe for concurrent use; concurrent writers to the SAME thread
// last-write-win, which matches the loop's one-turn-at-a-time contract.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Get loads a thread's conversation state. An unknown id yields a fresh
// empty state, so callers start new threads and resume old ones through
// the same path.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*loop.ConversationState, error) {
	var (
		messagesJSON []byte
		rewriteCount int
		summary      string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT messages, rewrite_count, summary FROM threads WHERE id = $1`,
		id.String(),
	).Scan(&messagesJSON, &rewriteCount, &summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return &loop.ConversationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", id, err)
	}

	var messages []*ai.Message
	if err := json.Unmarshal(messagesJSON, &messages); err != nil {
		return nil, fmt.Errorf("decoding thread %s messages: %w", id, err)
	}

	return &loop.ConversationState{
		Messages:     messages,
		RewriteCount: rewriteCount,
		Summary:      summary,
	}, nil
}

// Put saves a thread's conversation state, creating the row on first save.
func (s *Store) Put(ctx context.Context, id uuid.UUID, state *loop.ConversationState) error {
	if state == nil {
		return errors.New("thread: nil state")
	}

	messages := state.Messages
	if messages == nil {
		messages = []*ai.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding thread %s messages: %w", id, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO threads (id, messages, rewrite_count, summary, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			messages      = EXCLUDED.messages,
			rewrite_count = EXCLUDED.rewrite_count,
			summary       = EXCLUDED.summary,
			updated_at    = now()`,
		id.String(), messagesJSON, state.RewriteCount, state.Summary)
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", id, err)
	}

	s.logger.Debug("saved thread", "id", id, "messages", len(messages))
	return nil
}

// Delete removes a thread. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id.String()); err != nil {
		return fmt.Errorf("deleting thread %s: %w", id, err)
	}
	return nil
}

// List returns thread metadata, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]Meta, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, jsonb_array_length(messages), updated_at
		FROM threads
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var threads []Meta
	for rows.Next() {
		var (
			idText string
			m      Meta
		)
		if err := rows.Scan(&idText, &m.Messages, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("parsing thread id %q: %w", idText, err)
		}
		m.ID = id
		threads = append(threads, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threads: %w", err)
	}
	return threads, nil
}
