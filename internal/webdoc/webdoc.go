// Package webdoc fetches web pages and extracts their readable text for
// indexing. Extraction tries a readability pass first and falls back to
// stripping boilerplate tags from the raw HTML.
package webdoc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/avolkov/ragent/internal/security"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
	defaultUserAgent   = "ragent/1.0 (+https://github.com/avolkov/ragent)"
)

// Config holds fetcher settings. The zero value is production-ready.
type Config struct {
	// Timeout bounds one page fetch. Default 30s.
	Timeout time.Duration
	// MaxBodySize caps the response body in bytes. Default 10MB.
	MaxBodySize int
	// UserAgent overrides the default agent string.
	UserAgent string
	// AllowPrivateHosts disables SSRF protection. Tests only.
	AllowPrivateHosts bool
}

// Fetcher downloads pages and extracts article text.
type Fetcher struct {
	cfg       Config
	validator *security.URLValidator
	logger    *slog.Logger
}

// New creates a Fetcher. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:       cfg,
		validator: &security.URLValidator{AllowPrivate: cfg.AllowPrivateHosts},
		logger:    logger,
	}
}

// Fetch downloads one page and returns its title and readable text.
// Targets on private networks are rejected unless AllowPrivateHosts is set.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := f.validator.Validate(rawURL); err != nil {
		return "", "", fmt.Errorf("validating %s: %w", rawURL, err)
	}

	body, err := f.download(rawURL)
	if err != nil {
		return "", "", err
	}

	title, text, err := extract(rawURL, body)
	if err != nil {
		return "", "", err
	}

	f.logger.Debug("fetched page", "url", rawURL, "title", title, "text_len", len(text))
	return title, text, nil
}

// download performs the HTTP fetch through a fresh collector. A collector
// per call keeps fetches independent and lets the validator's transport
// re-check resolved addresses on every request.
func (f *Fetcher) download(rawURL string) ([]byte, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.MaxDepth(1),
		colly.MaxBodySize(f.cfg.MaxBodySize),
	)
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(f.validator.Transport())
	c.SetRedirectHandler(f.validator.CheckRedirect)

	var body []byte
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, fetchErr)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetching %s: empty response body", rawURL)
	}
	return body, nil
}

// extract pulls the title and main text out of an HTML document.
func extract(rawURL string, body []byte) (string, string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing URL %s: %w", rawURL, err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		text := normalizeText(article.TextContent)
		if text != "" {
			return article.Title, text, nil
		}
	}

	// Readability found no article content; strip boilerplate manually.
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parsing HTML from %s: %w", rawURL, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer, header, iframe").Remove()
	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		return "", "", fmt.Errorf("no readable text in %s", rawURL)
	}
	return title, text, nil
}

// normalizeText collapses whitespace runs while preserving line structure,
// so chunk boundaries stay stable across fetches of identical content.
func normalizeText(s string) string {
	var lines []string
	for line := range strings.Lines(s) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	return strings.Join(lines, "\n")
}
