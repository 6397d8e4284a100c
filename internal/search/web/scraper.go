package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrInvalidURL = errors.New("url must be absolute http(s)")

const maxPageBytes = 2 << 20

type Scraper struct {
	httpClient *http.Client
	maxWords   int
}

func NewScraper(httpClient *http.Client, maxWords int) *Scraper {
	if maxWords <= 0 {
		maxWords = 800
	}
	return &Scraper{httpClient: httpClient, maxWords: maxWords}
}

// Scrape fetches a page and returns its visible body text, whitespace
// collapsed and limited to the first maxWords words.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (string, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; VettanBot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s returned status %d", target, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	text, _ := TruncateWords(doc.Find("body").Text(), s.maxWords)
	return text, nil
}

func normalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u.String(), nil
}

// TruncateWords collapses whitespace and keeps at most limit words. The
// second return reports whether anything was cut.
func TruncateWords(text string, limit int) (string, bool) {
	words := strings.Fields(text)
	if limit <= 0 || len(words) <= limit {
		return strings.Join(words, " "), false
	}
	return strings.Join(words[:limit], " "), true
}
