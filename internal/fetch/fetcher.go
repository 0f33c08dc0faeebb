// Package fetch turns a website identifier into extracted page text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	defaultTimeout    = 12 * time.Second
	defaultTextBudget = 16000
	minTextBudget     = 4000
	maxTextBudget     = 20000
	defaultUserAgent  = "Mozilla/5.0 (compatible; outreach-enricher/1.0)"

	// maxBodyBytes bounds how much HTML we read before extraction.
	maxBodyBytes = 2 << 20

	// minFragmentRunes filters boilerplate: nav labels, button text, etc.
	minFragmentRunes = 20
)

// Error is a per-item fetch failure: network error, timeout, non-200 status
// or an empty document. It is recorded against the item, never fatal to a run.
type Error struct {
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	// Timeout bounds each HTTP attempt. Defaults to 12s.
	Timeout time.Duration
	// TextBudget caps extracted text length in runes. Defaults to 16000,
	// clamped to [4000, 20000].
	TextBudget int
	UserAgent  string
	// Cache, when set, short-circuits fetching for recently seen identifiers.
	Cache *Cache
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

type Fetcher struct {
	client *http.Client
	budget int
	ua     string
	cache  *Cache
}

func New(opts Options) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	budget := opts.TextBudget
	if budget <= 0 {
		budget = defaultTextBudget
	}
	if budget < minTextBudget {
		budget = minTextBudget
	}
	if budget > maxTextBudget {
		budget = maxTextBudget
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, budget: budget, ua: ua, cache: opts.Cache}
}

// Fetch retrieves and extracts text for identifier, trying scheme/www
// permutations for bare domains and returning the first candidate that
// yields non-empty text. All failures come back as *Error values.
func (f *Fetcher) Fetch(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", &Error{Identifier: identifier, Err: errors.New("empty identifier")}
	}

	if f.cache != nil {
		if text, ok := f.cache.Get(identifier); ok {
			return text, nil
		}
	}

	var lastErr error
	for _, candidate := range Candidates(identifier) {
		if err := ctx.Err(); err != nil {
			return "", &Error{Identifier: identifier, Err: err}
		}
		text, err := f.fetchOne(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if text == "" {
			lastErr = fmt.Errorf("%s: no text extracted", candidate)
			continue
		}
		if f.cache != nil {
			// Cache write failures are not fetch failures.
			_ = f.cache.Put(identifier, text)
		}
		return text, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate URLs")
	}
	return "", &Error{Identifier: identifier, Err: lastErr}
}

// Candidates expands a bare domain into the URL permutations to try, in
// order. Identifiers that already carry a scheme are used as-is.
func Candidates(identifier string) []string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil
	}
	if strings.Contains(identifier, "://") {
		return []string{identifier}
	}
	host := strings.TrimSuffix(identifier, "/")
	if strings.HasPrefix(strings.ToLower(host), "www.") {
		return []string{"https://" + host, "http://" + host}
	}
	return []string{
		"https://" + host,
		"https://www." + host,
		"http://" + host,
		"http://www." + host,
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%s: read body: %w", rawURL, err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("%s: empty body", rawURL)
	}

	text := extractFragments(string(body))
	if text == "" {
		text = extractArticle(string(body), rawURL)
	}
	return truncateRunes(text, f.budget), nil
}

// extractFragments collects the text of headline, paragraph and list tags,
// dropping short fragments and script/style noise.
func extractFragments(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script,style,noscript").Remove()

	var parts []string
	doc.Find("h1,h2,h3,p,li").Each(func(_ int, s *goquery.Selection) {
		t := strings.Join(strings.Fields(s.Text()), " ")
		if utf8.RuneCountInString(t) > minFragmentRunes {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

// extractArticle is the fallback for pages whose content lives outside the
// usual tags (heavy div soup, templated landing pages).
func extractArticle(html, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func truncateRunes(s string, budget int) string {
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)
	return string(runes[:budget])
}
