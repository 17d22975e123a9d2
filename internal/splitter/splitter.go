// Package splitter turns document text into fixed-size overlapping chunks
// with deterministic ids, so re-indexing unchanged content always produces
// identical chunks.
package splitter

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidOverlap   = errors.New("overlap must be non-negative and smaller than chunk size")
)

// Splitter splits text into chunks of at most size runes, where consecutive
// chunks share exactly overlap runes. Splitting operates on runes so a
// multi-byte character is never cut in half.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter with the given chunk size and overlap (in runes).
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if overlap < 0 || overlap >= size {
		return nil, ErrInvalidOverlap
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split returns the ordered chunks of text. Text no longer than the chunk
// size yields exactly one chunk. Empty text yields no chunks; there is
// nothing to embed.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	step := s.size - s.overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + s.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// ChunkID derives a stable chunk id from the source path and chunk index.
// The same (path, index) pair always maps to the same id, which makes
// re-upserting unchanged content idempotent.
func ChunkID(path string, index int) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s#%d", path, index))
	return "chunk_" + hex.EncodeToString(hash[:16])
}
