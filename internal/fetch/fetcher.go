// Package fetch retrieves and normalizes raw content for ingestion.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kmathur/briefly/pkg/models"
)

var (
	ErrFetch        = errors.New("fetching content")
	ErrEmptyContent = errors.New("content empty after sanitization")
	ErrUnknownType  = errors.New("unknown resource type")
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Sanitize collapses all whitespace runs to a single space and trims the
// result. Idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// Source describes one piece of content to retrieve.
type Source struct {
	Type     string
	URL      string
	Content  string
	Segments []models.TranscriptSegment
}

// Fetcher resolves a Source into sanitized plain text.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch retrieves the source content, strips markup and normalizes
// whitespace. Returns ErrEmptyContent if nothing remains afterwards.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (string, error) {
	var raw string
	var err error

	switch src.Type {
	case models.ResourceTypeArticle:
		raw, err = f.fetchURL(ctx, src.URL)
		if err != nil {
			return "", err
		}
	case models.ResourceTypeTranscript:
		parts := make([]string, 0, len(src.Segments))
		for _, seg := range src.Segments {
			parts = append(parts, seg.Text)
		}
		raw = strings.Join(parts, " ")
	case models.ResourceTypeNote:
		raw = src.Content
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, src.Type)
	}

	clean := Sanitize(raw)
	if clean == "" {
		return "", ErrEmptyContent
	}
	return clean, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	return ExtractText(string(body)), nil
}

// ExtractText strips HTML markup, returning the visible text content.
// Script and style contents are dropped. Non-HTML input passes through
// unchanged since the parser treats it as a bare text node.
func ExtractText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
