// Package indexer keeps the vector store consistent with a watched set of
// documents. It detects added, changed, and deleted files through content
// hashing and reconciles the store so every source maps to exactly one
// up-to-date chunk group. Unchanged content is never re-embedded.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/avolkov/ragent/internal/knowledge"
	"github.com/avolkov/ragent/internal/splitter"
)

// Store is the slice of the knowledge store the indexer needs.
// Interfaces are defined by the consumer, not the provider, so the indexer
// can be tested without a database.
type Store interface {
	UpsertChunks(ctx context.Context, chunks []knowledge.Chunk) error
	DeleteBySource(ctx context.Context, path string) (int64, error)
}

// Fetcher retrieves the readable text of a web page. Satisfied by
// webdoc.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (title, text string, err error)
}

var (
	ErrAlreadyRunning = errors.New("another indexing run holds the lock")

	ErrStoreNil = errors.New("indexer: store is nil")
)

// defaultExtensions are indexed when the configuration names none.
var defaultExtensions = []string{".txt", ".md", ".rst", ".html", ".go", ".py", ".yaml", ".yml", ".json"}

// Config holds the indexer settings.
type Config struct {
	// WatchDir is the root directory whose files are mirrored into the store.
	WatchDir string
	// Extensions filters which files are indexed, e.g. [".md", ".txt"].
	// Empty means a default document-oriented set.
	Extensions []string
	// StateFile is where the path-to-hash checkpoint is persisted.
	StateFile string
	// ChunkSize and ChunkOverlap configure text splitting, in runes.
	ChunkSize    int
	ChunkOverlap int
}

func (c Config) validate() error {
	if c.WatchDir == "" {
		return errors.New("indexer: watch directory is required")
	}
	if c.StateFile == "" {
		return errors.New("indexer: state file path is required")
	}
	return nil
}

// Result reports what one indexing run did.
type Result struct {
	FilesIndexed   int // new or changed files whose chunks were written
	FilesUnchanged int // hash matched the checkpoint, nothing embedded
	FilesRemoved   int // sources deleted from the watched set
	FilesSkipped   int // filtered out by extension or gitignore
	FilesFailed    int // read or store errors, isolated per file
	ChunksUpserted int
	ChunksDeleted  int64
	Duration       time.Duration
}

// Indexer reconciles a watched directory (and optional web pages) with the
// vector store, checkpointing progress in a state file.
type Indexer struct {
	store      Store
	split      *splitter.Splitter
	watchDir   string
	stateFile  string
	extensions map[string]bool
	logger     *slog.Logger
}

// New creates an Indexer. logger may be nil.
func New(store Store, cfg Config, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	size := cfg.ChunkSize
	if size <= 0 {
		size = 800
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 {
		overlap = 120
	}
	split, err := splitter.New(size, overlap)
	if err != nil {
		return nil, fmt.Errorf("indexer: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	extMap := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extMap[strings.ToLower(ext)] = true
	}

	absDir, err := filepath.Abs(cfg.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("indexer: resolving watch directory: %w", err)
	}

	return &Indexer{
		store:      store,
		split:      split,
		watchDir:   absDir,
		stateFile:  cfg.StateFile,
		extensions: extMap,
		logger:     logger,
	}, nil
}

// Run performs one full reconciliation of the watched directory.
//
// An advisory file lock serializes runs against the same state file, so a
// cron-triggered run and a manual one cannot interleave deletes and upserts.
// The checkpoint only ever records a hash after that file's chunks were
// fully written, so a crash mid-run is repaired by the next run.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	lock := flock.New(ix.stateFile + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring index lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		_ = lock.Unlock()
	}()

	state, err := LoadState(ix.stateFile)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	scanned, err := ix.scan(result)
	if err != nil {
		return nil, err
	}

	// Deterministic processing order keeps logs and failures reproducible.
	paths := make([]string, 0, len(scanned))
	for path := range scanned {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := scanned[path]
		if state[path] == hash {
			result.FilesUnchanged++
			continue
		}

		chunkCount, err := ix.indexFile(ctx, path)
		if err != nil {
			// The old chunk group may already be gone, so the stale hash
			// must not survive or the next run would skip this file.
			delete(state, path)
			result.FilesFailed++
			ix.logger.Warn("indexing file failed", "path", path, "error", err)
			continue
		}

		state[path] = hash
		result.FilesIndexed++
		result.ChunksUpserted += chunkCount
		ix.logger.Debug("indexed file", "path", path, "chunks", chunkCount)
	}

	// Sources in the checkpoint but absent from the scan were deleted.
	removed := make([]string, 0)
	for path := range state {
		if isWebSource(path) {
			continue
		}
		if _, ok := scanned[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)

	for _, path := range removed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deleted, err := ix.store.DeleteBySource(ctx, path)
		if err != nil {
			result.FilesFailed++
			ix.logger.Warn("removing deleted source failed", "path", path, "error", err)
			continue
		}
		delete(state, path)
		result.FilesRemoved++
		result.ChunksDeleted += deleted
	}

	if err := SaveState(ix.stateFile, state); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	ix.logger.Info("index run complete",
		"indexed", result.FilesIndexed,
		"unchanged", result.FilesUnchanged,
		"removed", result.FilesRemoved,
		"failed", result.FilesFailed,
		"duration", result.Duration)
	return result, nil
}

// IndexWeb reconciles the given web pages into the store, keyed by URL.
// URLs previously indexed but no longer listed are removed, mirroring how
// Run treats deleted files.
func (ix *Indexer) IndexWeb(ctx context.Context, fetcher Fetcher, urls []string) (*Result, error) {
	start := time.Now()

	lock := flock.New(ix.stateFile + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring index lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		_ = lock.Unlock()
	}()

	state, err := LoadState(ix.stateFile)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	listed := make(map[string]bool, len(urls))

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listed[url] = true

		title, text, err := fetcher.Fetch(ctx, url)
		if err != nil {
			result.FilesFailed++
			ix.logger.Warn("fetching page failed", "url", url, "error", err)
			continue
		}

		hash := contentHash([]byte(text))
		if state[url] == hash {
			result.FilesUnchanged++
			continue
		}

		chunkCount, err := ix.indexText(ctx, url, knowledge.SourceTypeWeb, title, text)
		if err != nil {
			delete(state, url)
			result.FilesFailed++
			ix.logger.Warn("indexing page failed", "url", url, "error", err)
			continue
		}

		state[url] = hash
		result.FilesIndexed++
		result.ChunksUpserted += chunkCount
	}

	for url := range state {
		if !isWebSource(url) || listed[url] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deleted, err := ix.store.DeleteBySource(ctx, url)
		if err != nil {
			result.FilesFailed++
			ix.logger.Warn("removing unlisted page failed", "url", url, "error", err)
			continue
		}
		delete(state, url)
		result.FilesRemoved++
		result.ChunksDeleted += deleted
	}

	if err := SaveState(ix.stateFile, state); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// scan walks the watched directory and returns relative path to content
// hash for every indexable file. Honors .gitignore at the watch root.
func (ix *Indexer) scan(result *Result) (map[string]string, error) {
	var gitIgnore *ignore.GitIgnore
	gitignorePath := filepath.Join(ix.watchDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		// A malformed .gitignore disables filtering rather than failing the run.
		gitIgnore, _ = ignore.CompileIgnoreFile(gitignorePath)
	}

	scanned := make(map[string]string)
	err := filepath.WalkDir(ix.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.watchDir {
				return err
			}
			result.FilesFailed++
			ix.logger.Warn("scan error", "path", path, "error", err)
			return nil
		}

		relPath, err := filepath.Rel(ix.watchDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		if gitIgnore != nil && relPath != "." && gitIgnore.MatchesPath(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		if !ix.extensions[strings.ToLower(filepath.Ext(path))] {
			result.FilesSkipped++
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			result.FilesFailed++
			ix.logger.Warn("hashing file failed", "path", relPath, "error", err)
			return nil
		}

		scanned[filepath.ToSlash(relPath)] = hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", ix.watchDir, err)
	}
	return scanned, nil
}

// indexFile reads one watched file and replaces its chunk group.
func (ix *Indexer) indexFile(ctx context.Context, relPath string) (int, error) {
	content, err := os.ReadFile(filepath.Join(ix.watchDir, filepath.FromSlash(relPath))) // #nosec G304 -- paths come from scanning the configured watch dir
	if err != nil {
		return 0, fmt.Errorf("reading file: %w", err)
	}
	return ix.indexText(ctx, relPath, knowledge.SourceTypeFile, filepath.Base(relPath), string(content))
}

// indexText replaces the chunk group for one source. Old chunks are always
// deleted first so a source whose split shrank leaves no stale fragments.
func (ix *Indexer) indexText(ctx context.Context, sourcePath, sourceType, name, text string) (int, error) {
	if _, err := ix.store.DeleteBySource(ctx, sourcePath); err != nil {
		return 0, fmt.Errorf("deleting old chunks: %w", err)
	}

	parts := ix.split.Split(text)
	if len(parts) == 0 {
		return 0, nil
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]knowledge.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = knowledge.Chunk{
			ID:   splitter.ChunkID(sourcePath, i),
			Text: part,
			Metadata: map[string]string{
				knowledge.MetaSourceType:  sourceType,
				knowledge.MetaSourcePath:  sourcePath,
				knowledge.MetaFileName:    name,
				knowledge.MetaChunkIndex:  strconv.Itoa(i),
				knowledge.MetaTotalChunks: strconv.Itoa(len(parts)),
				knowledge.MetaIndexedAt:   indexedAt,
			},
		}
	}

	if err := ix.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upserting chunks: %w", err)
	}
	return len(chunks), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- paths come from scanning the configured watch dir
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isWebSource reports whether a checkpoint key refers to a web page rather
// than a watched file. File keys are relative paths and never carry a scheme.
func isWebSource(key string) bool {
	return strings.Contains(key, "://")
}
