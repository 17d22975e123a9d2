package splitter

import (
	"errors"
	"strings"
	"testing"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr error
	}{
		{"valid", 800, 120, nil},
		{"zero overlap", 100, 0, nil},
		{"zero size", 0, 0, ErrInvalidChunkSize},
		{"negative size", -1, 0, ErrInvalidChunkSize},
		{"negative overlap", 100, -1, ErrInvalidOverlap},
		{"overlap equals size", 100, 100, ErrInvalidOverlap},
		{"overlap exceeds size", 100, 150, ErrInvalidOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New(%d, %d) error = %v, want %v", tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplitShortTextYieldsOneChunk(t *testing.T) {
	s, err := New(800, 120)
	if err != nil {
		t.Fatal(err)
	}

	text := "short document under chunk size"
	chunks := s.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk = %q, want original text", chunks[0])
	}
}

func TestSplitExactSizeYieldsOneChunk(t *testing.T) {
	s, err := New(10, 3)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("x", 10)
	chunks := s.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	s, err := New(800, 120)
	if err != nil {
		t.Fatal(err)
	}
	if chunks := s.Split(""); chunks != nil {
		t.Errorf("Split(\"\") = %v, want nil", chunks)
	}
}

func TestSplitOverlapIsExact(t *testing.T) {
	const (
		size    = 10
		overlap = 4
	)
	s, err := New(size, overlap)
	if err != nil {
		t.Fatal(err)
	}

	// 26 distinct runes so overlapping regions are identifiable
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-overlap:])
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with previous chunk's last %d runes: prev=%q cur=%q",
				i, overlap, chunks[i-1], chunks[i])
		}
	}
}

func TestSplitReconstructsText(t *testing.T) {
	const (
		size    = 10
		overlap = 4
	)
	s, err := New(size, overlap)
	if err != nil {
		t.Fatal(err)
	}

	text := "the quick brown fox jumps over the lazy dog and keeps running"
	chunks := s.Split(text)

	// Dropping each chunk's leading overlap reconstructs the input exactly:
	// no runes lost, none duplicated beyond the configured overlap.
	var sb strings.Builder
	for i, c := range chunks {
		runes := []rune(c)
		if i == 0 {
			sb.WriteString(c)
			continue
		}
		sb.WriteString(string(runes[overlap:]))
	}
	if sb.String() != text {
		t.Errorf("reconstructed %q, want %q", sb.String(), text)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	s, err := New(12, 5)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("deterministic input ", 20)
	first := s.Split(text)
	second := s.Split(text)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitHandlesMultiByteRunes(t *testing.T) {
	s, err := New(5, 2)
	if err != nil {
		t.Fatal(err)
	}

	text := "héllo wörld ünïcode tëxt"
	for i, c := range s.Split(text) {
		if !strings.Contains(text, c) {
			t.Errorf("chunk %d %q is not a substring of input (broken rune?)", i, c)
		}
	}
}

func TestChunkIDStableAndDistinct(t *testing.T) {
	a0 := ChunkID("docs/a.md", 0)
	a0again := ChunkID("docs/a.md", 0)
	a1 := ChunkID("docs/a.md", 1)
	b0 := ChunkID("docs/b.md", 0)

	if a0 != a0again {
		t.Errorf("same (path, index) produced different ids: %q vs %q", a0, a0again)
	}
	if a0 == a1 {
		t.Errorf("different indexes produced same id %q", a0)
	}
	if a0 == b0 {
		t.Errorf("different paths produced same id %q", a0)
	}
	if !strings.HasPrefix(a0, "chunk_") {
		t.Errorf("id %q missing chunk_ prefix", a0)
	}
}
