package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store manages document chunks with vector search on PostgreSQL + pgvector.
// It generates embeddings through the configured embedder and keeps chunk
// groups consistent per source path (full replacement, never partial update).
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a new Store instance.
// logger may be nil, in which case slog.Default() is used.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}
}

// Ping verifies the database connection. Used at startup: an unreachable
// vector store is fatal for an indexing run or a serving process.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	return nil
}

// UpsertChunks embeds all chunk texts in a single batch request and upserts
// them by id. Chunks for one source file are expected to arrive together;
// callers delete the old chunk group first (see DeleteBySource) so a shrinking
// file leaves no stale fragments behind.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := s.embedTexts(ctx, chunkTexts(chunks))
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	const upsertSQL = `
		INSERT INTO documents (id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`

	for i, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %q: %w", chunk.ID, err)
		}
		vec := pgvector.NewVector(embeddings[i])
		if _, err := tx.Exec(ctx, upsertSQL, chunk.ID, chunk.Text, &vec, metadataJSON); err != nil {
			return fmt.Errorf("upserting chunk %q: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	s.logger.Debug("upserted chunks", "count", len(chunks))
	return nil
}

// DeleteBySource removes every chunk whose metadata source_path matches path.
// Returns the number of chunks removed.
func (s *Store) DeleteBySource(ctx context.Context, path string) (int64, error) {
	return s.deleteByMetadata(ctx, map[string]string{MetaSourcePath: path})
}

// Purge removes every chunk of the given source type ("file", "web").
// Mirrors collection-reset maintenance; returns the number of chunks removed.
func (s *Store) Purge(ctx context.Context, sourceType string) (int64, error) {
	return s.deleteByMetadata(ctx, map[string]string{MetaSourceType: sourceType})
}

func (s *Store) deleteByMetadata(ctx context.Context, filter map[string]string) (int64, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshaling delete filter: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE metadata @> $1`, filterJSON)
	if err != nil {
		return 0, fmt.Errorf("deleting by metadata filter: %w", err)
	}

	s.logger.Debug("deleted chunks", "filter", filter, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Search performs semantic search and returns the most similar chunks,
// ordered by cosine similarity. A per-query timeout prevents long-running
// vector searches from blocking a conversation turn.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embeddings, err := s.embedTexts(queryCtx, []string{query})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, err
	}
	queryVec := pgvector.NewVector(embeddings[0])

	// metadata @> $2 is safe: the filter JSON always comes from json.Marshal
	// over typed maps, and pgx uses parameterized queries throughout.
	var rows pgx.Rows
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling search filter: %w", marshalErr)
		}
		rows, err = s.pool.Query(queryCtx, `
			SELECT id, content, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM documents
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3`, &queryVec, filterJSON, cfg.topK)
	} else {
		rows, err = s.pool.Query(queryCtx, `
			SELECT id, content, metadata, created_at,
			       1 - (embedding <=> $1) AS similarity
			FROM documents
			ORDER BY embedding <=> $1
			LIMIT $2`, &queryVec, cfg.topK)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows)
}

// Count returns the number of chunks matching the given metadata filter.
// A nil or empty filter counts all chunks.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	var count int64
	var err error

	if len(filter) > 0 {
		var filterJSON []byte
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return 0, fmt.Errorf("marshaling count filter: %w", err)
		}
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE metadata @> $1`, filterJSON).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}

	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// embedTexts embeds texts in one batch request and validates the response.
func (s *Store) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

func (s *Store) scanResults(rows pgx.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var (
			id, content  string
			metadataJSON []byte
			createdAt    time.Time
			similarity   float32
		)
		if err := rows.Scan(&id, &content, &metadataJSON, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}

		var metadata map[string]string
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "document_id", id, "error", err)
			metadata = make(map[string]string)
		}

		results = append(results, Result{
			Document: Document{
				ID:       id,
				Content:  content,
				Metadata: metadata,
				CreateAt: createdAt,
			},
			Similarity: similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return results, nil
}

func chunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
