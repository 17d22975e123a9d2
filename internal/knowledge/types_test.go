package knowledge

import (
	"testing"
	"time"
)

func TestBuildSearchConfigDefaults(t *testing.T) {
	cfg := buildSearchConfig(nil)

	if cfg.topK != 5 {
		t.Errorf("topK = %d, want 5", cfg.topK)
	}
	if cfg.timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.timeout)
	}
	if cfg.filter != nil {
		t.Errorf("filter = %v, want nil", cfg.filter)
	}
}

func TestBuildSearchConfigOptions(t *testing.T) {
	cfg := buildSearchConfig([]SearchOption{
		WithTopK(10),
		WithFilter(MetaSourceType, SourceTypeFile),
		WithFilter(MetaSourcePath, "docs/readme.md"),
		WithTimeout(3 * time.Second),
	})

	if cfg.topK != 10 {
		t.Errorf("topK = %d, want 10", cfg.topK)
	}
	if cfg.filter[MetaSourceType] != SourceTypeFile {
		t.Errorf("filter[%s] = %q, want %q", MetaSourceType, cfg.filter[MetaSourceType], SourceTypeFile)
	}
	if cfg.filter[MetaSourcePath] != "docs/readme.md" {
		t.Errorf("filter[%s] = %q, want docs/readme.md", MetaSourcePath, cfg.filter[MetaSourcePath])
	}
	if cfg.timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", cfg.timeout)
	}
}

func TestBuildSearchConfigRejectsInvalidValues(t *testing.T) {
	// Zero and negative values keep the defaults instead of producing
	// a query with LIMIT 0 or an immediately-expired context.
	cfg := buildSearchConfig([]SearchOption{WithTopK(0), WithTimeout(-time.Second)})
	if cfg.topK != 5 {
		t.Errorf("topK = %d, want default 5", cfg.topK)
	}
	if cfg.timeout != 10*time.Second {
		t.Errorf("timeout = %v, want default 10s", cfg.timeout)
	}
}

func TestChunkTexts(t *testing.T) {
	chunks := []Chunk{
		{ID: "a#0", Text: "first"},
		{ID: "a#1", Text: "second"},
	}
	texts := chunkTexts(chunks)
	if len(texts) != 2 || texts[0] != "first" || texts[1] != "second" {
		t.Errorf("chunkTexts = %v", texts)
	}
}
