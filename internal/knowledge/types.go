package knowledge

import "time"

// Source type constants for stored chunks.
const (
	// SourceTypeFile marks chunks produced from the watched folder.
	SourceTypeFile = "file"

	// SourceTypeWeb marks chunks produced from crawled web pages.
	SourceTypeWeb = "web"
)

// Metadata keys shared between the indexer and the retriever.
const (
	MetaSourceType  = "source_type"
	MetaSourcePath  = "source_path"
	MetaFileName    = "file_name"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaIndexedAt   = "indexed_at"
)

// VectorDimension is the embedding width of the documents table.
// text-embedding-004 outputs 768 dimensions; the pgvector column matches.
const VectorDimension = 768

// Chunk is the unit stored in the vector store: a bounded slice of a source
// document plus the metadata needed to find and replace it later.
type Chunk struct {
	ID       string            // deterministic: derived from (source path, chunk index)
	Text     string            // chunk content, what gets embedded
	Metadata map[string]string // source_path, chunk_index, etc.
}

// Document represents a stored chunk as returned from search.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
	CreateAt time.Time
}

// Result represents a single search result with similarity score.
type Result struct {
	Document   Document
	Similarity float32 // cosine similarity (0-1)
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	filter  map[string]string
	timeout time.Duration
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter adds a metadata filter to restrict search results.
// Multiple calls add additional filters (AND logic).
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout overrides the per-query timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
