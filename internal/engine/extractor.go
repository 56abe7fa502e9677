package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const (
	// DefaultMaxTextLength is the rune limit applied to extracted drafts.
	DefaultMaxTextLength = 15000
	// minTextLength rejects login walls, cookie walls and empty pages.
	minTextLength        = 100
	extractAttempts      = 3
	maxBodySize          = 5 * 1024 * 1024
)

// HTTPExtractor fetches a web page and turns its main content into a draft
// with "## " headings and "- " bullets, the layout drafts are written in.
type HTTPExtractor struct {
	client  *http.Client
	maxText int
	backoff time.Duration
}

// ExtractorOption configures an HTTPExtractor.
type ExtractorOption func(*HTTPExtractor)

// WithMaxTextLength caps extracted drafts at n runes.
func WithMaxTextLength(n int) ExtractorOption {
	return func(e *HTTPExtractor) {
		if n > 0 {
			e.maxText = n
		}
	}
}

// WithExtractBackoff sets the base delay between extraction attempts.
func WithExtractBackoff(d time.Duration) ExtractorOption {
	return func(e *HTTPExtractor) { e.backoff = d }
}

// NewHTTPExtractor creates an extractor with a 30s fetch timeout.
func NewHTTPExtractor(opts ...ExtractorOption) *HTTPExtractor {
	e := &HTTPExtractor{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxText: DefaultMaxTextLength,
		backoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches url and returns its content as a draft. Client errors
// (4xx other than 429) are not retried.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) (*ExtractedContent, error) {
	var lastErr error
	for attempt := 0; attempt < extractAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * e.backoff):
			}
		}

		content, err := e.extractOnce(ctx, url)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ae *apiError
		if errors.As(err, &ae) && !ae.isRetryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", extractAttempts, lastErr)
}

func (e *HTTPExtractor) extractOnce(ctx context.Context, url string) (*ExtractedContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	parsedURL, _ := nurl.Parse(url)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	draft := draftFromHTML(article.Content)
	if draft == "" {
		draft = normalizeText(article.TextContent)
	}
	if n := utf8.RuneCountInString(draft); n < minTextLength {
		return nil, fmt.Errorf("extracted content too short (%d chars), possibly blocked or empty page", n)
	}
	draft = truncateRunes(draft, e.maxText)

	var published string
	if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		published = article.PublishedTime.Format(time.RFC3339)
	}
	return &ExtractedContent{
		Title:          strings.TrimSpace(article.Title),
		NormalizedText: draft,
		Meta: ContentMeta{
			Author:      article.Byline,
			PublishDate: published,
			WordCount:   len(strings.Fields(draft)),
		},
	}, nil
}

// draftFromHTML walks the block elements of an article body in document
// order: headings become "## " lines, list items "- " bullets, paragraphs
// and quotes plain paragraphs.
func draftFromHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var blocks []string
	var bullets []string
	flush := func() {
		if len(bullets) > 0 {
			blocks = append(blocks, strings.Join(bullets, "\n"))
			bullets = nil
		}
	}
	doc.Find("h1, h2, h3, h4, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Paragraphs nested in list items or quotes are read with their parent.
		if s.Is("p") && s.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}
		text := normalizeText(s.Text())
		if text == "" {
			return
		}
		text = strings.Join(strings.Fields(text), " ")
		switch goquery.NodeName(s) {
		case "li":
			bullets = append(bullets, "- "+text)
			return
		case "h1", "h2", "h3", "h4":
			flush()
			blocks = append(blocks, "## "+text)
		default:
			flush()
			blocks = append(blocks, text)
		}
	})
	flush()
	return strings.Join(blocks, "\n\n")
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
