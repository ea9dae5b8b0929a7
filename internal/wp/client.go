// Package wp publishes rewritten articles to a WordPress site through the
// REST API. Posts are always created as drafts; an editor promotes them.
package wp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/globaltime"
)

const (
	apiBase = "/wp-json/wp/v2"

	maxAttempts      = 3
	retryBaseDelay   = time.Second
	maxImageBytes    = 8 * 1024 * 1024
	responseBodyCap  = 1 << 20
	defaultWPTimeout = 30 * time.Second
)

// Options configures a Client. Either Username plus AppPassword or JWTToken
// must be set; the JWT token wins when both are present.
type Options struct {
	BaseURL     string
	Username    string
	AppPassword string
	JWTToken    string
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

type Client struct {
	baseURL string
	auth    string
	client  *http.Client
	logger  zerolog.Logger
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("wordpress base url is required")
	}

	var auth string
	switch {
	case strings.TrimSpace(opts.JWTToken) != "":
		auth = "Bearer " + strings.TrimSpace(opts.JWTToken)
	case opts.Username != "" && opts.AppPassword != "":
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.AppPassword))
		auth = "Basic " + credentials
	default:
		return nil, fmt.Errorf("wordpress credentials are required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWPTimeout}
	}

	return &Client{
		baseURL: base,
		auth:    auth,
		client:  client,
		logger:  opts.Logger.With().Str("component", "wp").Logger(),
	}, nil
}

// PublishRequest carries everything needed to create a draft post.
type PublishRequest struct {
	Title             string
	BodyMarkdown      string
	Excerpt           string
	CategoryName      string
	Tags              []string
	FeaturedImageURL  string
	SourceName        string
	SourceURL         string
	SourcePublishedAt string
	SourceHash        string
	AIVersion         string
	RiskLevel         string
	NeedsReview       bool
	OriginalTitle     string
}

// CreateDraft renders the article and creates a WordPress draft. It returns
// the new post id. A failed category lookup or image upload degrades to a
// post without that extra, only the post creation itself is fatal.
func (c *Client) CreateDraft(ctx context.Context, req PublishRequest) (int64, error) {
	contentHTML, err := RenderHTML(req.BodyMarkdown)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"title":   req.Title,
		"content": contentHTML,
		"excerpt": req.Excerpt,
		"status":  "draft",
		"meta": map[string]any{
			"source_name":         req.SourceName,
			"source_url":          req.SourceURL,
			"source_published_at": req.SourcePublishedAt,
			"ingest_timestamp":    globaltime.Now().UTC().Format(time.RFC3339),
			"source_hash":         req.SourceHash,
			"ai_version":          req.AIVersion,
			"risk_level":          req.RiskLevel,
			"needs_review":        req.NeedsReview,
			"original_title":      req.OriginalTitle,
		},
	}

	if req.CategoryName != "" {
		if categoryID, err := c.GetOrCreateCategory(ctx, req.CategoryName); err != nil {
			c.logger.Warn().Err(err).Str("category", req.CategoryName).Msg("category resolution failed")
		} else {
			payload["categories"] = []int64{categoryID}
		}
	}

	if req.FeaturedImageURL != "" {
		if mediaID, err := c.UploadMedia(ctx, req.FeaturedImageURL); err != nil {
			c.logger.Warn().Err(err).Str("image", req.FeaturedImageURL).Msg("featured image upload failed")
		} else {
			payload["featured_media"] = mediaID
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal post payload: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, http.MethodPost, apiBase+"/posts", "application/json", body, nil)
	if err != nil {
		return 0, err
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, fmt.Errorf("decode post response: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("wordpress returned no post id")
	}

	c.logger.Info().Int64("post_id", created.ID).Str("title", req.Title).Msg("draft created")
	return created.ID, nil
}

// GetOrCreateCategory resolves a category name to its id, creating the
// category when it does not exist yet.
func (c *Client) GetOrCreateCategory(ctx context.Context, name string) (int64, error) {
	query := url.Values{"search": {name}, "per_page": {"100"}}
	respBody, err := c.doWithRetry(ctx, http.MethodGet, apiBase+"/categories?"+query.Encode(), "", nil, nil)
	if err != nil {
		return 0, err
	}

	var categories []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &categories); err != nil {
		return 0, fmt.Errorf("decode categories: %w", err)
	}
	for _, category := range categories {
		if strings.EqualFold(category.Name, name) {
			return category.ID, nil
		}
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return 0, fmt.Errorf("marshal category payload: %w", err)
	}
	respBody, err = c.doWithRetry(ctx, http.MethodPost, apiBase+"/categories", "application/json", body, nil)
	if err != nil {
		return 0, err
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, fmt.Errorf("decode category response: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("wordpress returned no category id")
	}
	return created.ID, nil
}

// UploadMedia downloads an image and uploads it to the media library,
// returning the media id.
func (c *Client) UploadMedia(ctx context.Context, imageURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build image request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("download image status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return 0, fmt.Errorf("read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	filename := imageFilename(imageURL)

	headers := http.Header{
		"Content-Disposition": {fmt.Sprintf(`attachment; filename="%s"`, filename)},
	}
	respBody, err := c.doWithRetry(ctx, http.MethodPost, apiBase+"/media", contentType, image, headers)
	if err != nil {
		return 0, err
	}

	var uploaded struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(respBody, &uploaded); err != nil {
		return 0, fmt.Errorf("decode media response: %w", err)
	}
	if uploaded.ID == 0 {
		return 0, fmt.Errorf("wordpress returned no media id")
	}
	return uploaded.ID, nil
}

// doWithRetry performs an authenticated request against the WordPress API,
// retrying server errors with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint, contentType string, body []byte, extraHeaders http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", c.auth)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for key, values := range extraHeaders {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, responseBodyCap))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("wordpress status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("wordpress status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return respBody, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func imageFilename(imageURL string) string {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "featured.jpg"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "featured.jpg"
	}
	return name
}
