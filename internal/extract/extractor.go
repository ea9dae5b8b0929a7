// Package extract turns a candidate URL into clean article content. The page
// is fetched once; readability extracts the main text while a separate pass
// over the markup collects the title, metadata and images.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"rassegna.press/rassegna/internal/langdetect"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultBodyByteLimit = 2 * 1024 * 1024
	defaultUserAgent     = "RassegnaBot/1.0 (+https://rassegna.press)"

	maxImages     = 5
	minImageWidth = 200
)

var skippedImageAltWords = []string{"icon", "logo", "avatar", "button"}

// Extracted is the cleaned content of a fetched page.
type Extracted struct {
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonical_url"`
	Title        string     `json:"title"`
	Text         string     `json:"text"`
	Language     string     `json:"language,omitempty"`
	Author       string     `json:"author,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Images       []string   `json:"images,omitempty"`
}

// Options controls HTTP behavior for extraction.
type Options struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

type Extractor struct {
	timeout   time.Duration
	bodyLimit int64
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

func New(opts Options) *Extractor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyByteLimit
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Extractor{
		timeout:   timeout,
		bodyLimit: bodyLimit,
		userAgent: userAgent,
		client:    client,
		logger:    opts.Logger.With().Str("component", "extract").Logger(),
	}
}

// Extract fetches a page and returns its cleaned content.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Extracted, error) {
	page := strings.TrimSpace(rawURL)
	if page == "" {
		return nil, fmt.Errorf("url is required")
	}

	body, err := e.fetch(ctx, page)
	if err != nil {
		return nil, err
	}

	pageURL, err := url.Parse(page)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	meta := parseMeta(bytes.NewReader(body), pageURL)

	text := ""
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", page).Msg("readability parse failed")
	} else {
		var rendered bytes.Buffer
		if err := article.RenderText(&rendered); err == nil {
			text = CleanText(rendered.String())
		}
		if text == "" {
			text = CleanText(article.Excerpt())
		}
	}

	canonical := CanonicalURL(page)
	if canonical == "" {
		canonical = page
	}

	extracted := &Extracted{
		URL:          page,
		CanonicalURL: canonical,
		Title:        meta.title,
		Text:         text,
		Author:       meta.author,
		PublishedAt:  meta.publishedAt,
		Images:       meta.images,
	}
	if text != "" {
		extracted.Language = langdetect.DetectISO6391(text)
	}
	return extracted, nil
}

func (e *Extractor) fetch(ctx context.Context, page string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.5")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

type pageMeta struct {
	title       string
	author      string
	publishedAt *time.Time
	images      []string
}

// parseMeta walks the markup collecting the title, author, publication date
// and usable images. Title preference order: og:title, <title>, first <h1>.
func parseMeta(r io.Reader, pageURL *url.URL) pageMeta {
	var meta pageMeta
	var ogTitle, docTitle, firstH1 string
	var contentImages []string

	tokenizer := html.NewTokenizer(r)
	var inTitle, inH1 bool
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}

		switch tokenType {
		case html.TextToken:
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if inTitle && docTitle == "" {
				docTitle = text
			}
			if inH1 && firstH1 == "" {
				firstH1 = text
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			attrs := collectAttrs(tokenizer, hasAttr)
			switch string(name) {
			case "title":
				inTitle = tokenType == html.StartTagToken
			case "h1":
				inH1 = tokenType == html.StartTagToken
			case "meta":
				applyMetaTag(&meta, attrs, &ogTitle)
			case "img":
				if src := usableImage(attrs, pageURL); src != "" {
					contentImages = append(contentImages, src)
				}
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "title":
				inTitle = false
			case "h1":
				inH1 = false
			}
		}
	}

	meta.title = firstNonEmpty(ogTitle, docTitle, firstH1)
	meta.images = dedupeImages(meta.images, contentImages)
	return meta
}

func applyMetaTag(meta *pageMeta, attrs map[string]string, ogTitle *string) {
	key := attrs["property"]
	if key == "" {
		key = attrs["name"]
	}
	content := strings.TrimSpace(attrs["content"])
	if content == "" {
		return
	}

	switch strings.ToLower(key) {
	case "og:title":
		if *ogTitle == "" {
			*ogTitle = content
		}
	case "og:image":
		meta.images = append(meta.images, content)
	case "author", "article:author":
		if meta.author == "" {
			meta.author = content
		}
	case "article:published_time":
		if meta.publishedAt == nil {
			if parsed, err := parseTimestamp(content); err == nil {
				meta.publishedAt = &parsed
			}
		}
	}
}

func usableImage(attrs map[string]string, pageURL *url.URL) string {
	src := strings.TrimSpace(attrs["src"])
	if src == "" || strings.HasPrefix(src, "data:") {
		return ""
	}

	if width, err := strconv.Atoi(strings.TrimSpace(attrs["width"])); err == nil && width < minImageWidth {
		return ""
	}
	alt := strings.ToLower(attrs["alt"])
	for _, word := range skippedImageAltWords {
		if strings.Contains(alt, word) {
			return ""
		}
	}

	parsed, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return pageURL.ResolveReference(parsed).String()
}

func collectAttrs(tokenizer *html.Tokenizer, hasAttr bool) map[string]string {
	if !hasAttr {
		return nil
	}
	attrs := make(map[string]string)
	for {
		key, value, more := tokenizer.TagAttr()
		attrs[strings.ToLower(string(key))] = string(value)
		if !more {
			break
		}
	}
	return attrs
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func dedupeImages(ogImages, contentImages []string) []string {
	seen := make(map[string]struct{})
	var images []string
	for _, src := range append(ogImages, contentImages...) {
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		images = append(images, src)
		if len(images) == maxImages {
			break
		}
	}
	return images
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
