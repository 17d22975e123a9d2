package webdoc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Vector Search Basics</title>
<script>console.log("tracking");</script>
<style>body { color: red; }</style>
</head>
<body>
<nav>Home | About | Contact</nav>
<article>
<h1>Vector Search Basics</h1>
<p>Vector search finds documents by semantic similarity rather than exact
keyword match. Each document is embedded into a high-dimensional space.</p>
<p>Cosine similarity between query and document vectors ranks the results,
so related content surfaces even when the wording differs completely.</p>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

func newTestFetcher() *Fetcher {
	return New(Config{AllowPrivateHosts: true}, nil)
}

func TestFetchExtractsArticleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	title, text, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if !strings.Contains(title, "Vector Search Basics") {
		t.Errorf("title = %q, want article title", title)
	}
	if !strings.Contains(text, "semantic similarity") {
		t.Errorf("text missing article body: %q", text)
	}
	if strings.Contains(text, "console.log") {
		t.Error("script content leaked into extracted text")
	}
	if strings.Contains(text, "color: red") {
		t.Error("style content leaked into extracted text")
	}
}

func TestFetchIsDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, first, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	// Identical content must extract identically, or the indexer would
	// re-embed pages that did not change.
	if first != second {
		t.Error("extracted text differs between fetches of identical content")
	}
}

func TestFetchRejectsPrivateTargets(t *testing.T) {
	f := New(Config{}, nil) // SSRF protection on

	if _, _, err := f.Fetch(context.Background(), "http://169.254.169.254/latest/meta-data/"); err == nil {
		t.Error("expected metadata endpoint to be rejected")
	}
	if _, _, err := f.Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("expected file scheme to be rejected")
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, _, err := newTestFetcher().Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := newTestFetcher().Fetch(ctx, "http://example.com"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestNormalizeText(t *testing.T) {
	in := "  Title line  \n\n\n  body   with   spaces \n\t\n last "
	want := "Title line\nbody with spaces\nlast"
	if got := normalizeText(in); got != want {
		t.Errorf("normalizeText = %q, want %q", got, want)
	}
}
