package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avolkov/ragent/internal/indexer"
	"github.com/avolkov/ragent/internal/knowledge"
)

var (
	indexWeb   bool
	indexReset bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the watched folder into the knowledge base",
	Long: `index scans the configured watch_dir and upserts changed documents
into the knowledge base. Unchanged files are skipped by content hash,
so repeated runs are cheap.

With --web, the configured web_urls are fetched and indexed as well.
With --reset, all indexed documents and the saved index state are
removed first, forcing a full re-index.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexWeb, "web", false, "also index the configured web pages")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "drop all indexed documents and state before indexing")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if indexReset {
		if err := resetIndex(ctx, a.Knowledge, a.Config.StateFile); err != nil {
			return fmt.Errorf("resetting index: %w", err)
		}
		fmt.Println("Index reset.")
	}

	result, err := a.Indexer.Run(ctx)
	if err != nil {
		if errors.Is(err, indexer.ErrAlreadyRunning) {
			return fmt.Errorf("another indexing run is in progress")
		}
		return err
	}
	printResult("Files", result)

	if indexWeb {
		if len(a.Config.WebURLs) == 0 {
			fmt.Println("No web_urls configured, skipping web indexing.")
		} else {
			webResult, err := a.Indexer.IndexWeb(ctx, a.Fetcher, a.Config.WebURLs)
			if err != nil {
				return err
			}
			printResult("Web pages", webResult)
		}
	}

	if result.FilesFailed > 0 {
		return fmt.Errorf("%d file(s) failed to index", result.FilesFailed)
	}
	return nil
}

func resetIndex(ctx context.Context, store *knowledge.Store, stateFile string) error {
	for _, sourceType := range []string{knowledge.SourceTypeFile, knowledge.SourceTypeWeb} {
		if _, err := store.Purge(ctx, sourceType); err != nil {
			return err
		}
	}
	if err := os.Remove(stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

func printResult(label string, r *indexer.Result) {
	fmt.Printf("%s: %d indexed, %d unchanged, %d removed, %d skipped, %d failed (%d chunks upserted, %s)\n",
		label, r.FilesIndexed, r.FilesUnchanged, r.FilesRemoved, r.FilesSkipped,
		r.FilesFailed, r.ChunksUpserted, r.Duration.Round(time.Millisecond))
}
