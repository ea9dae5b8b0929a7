// Package notify sends the monitor's digest emails. Failures are logged and
// swallowed so a broken mail provider never interrupts article processing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Maximum number of articles listed in a single digest email.
const maxDigestArticles = 10

// Article is one entry in a digest email.
type Article struct {
	Title  string
	URL    string
	Source string
}

// Notifier delivers digest emails about newly found articles.
type Notifier interface {
	NotifyNewArticles(ctx context.Context, articles []Article) error
}

// Disabled is the no-op notifier used when email is not configured.
type Disabled struct{}

func (Disabled) NotifyNewArticles(context.Context, []Article) error { return nil }

// Options configures the email notifier.
type Options struct {
	Endpoint   string
	APIKey     string
	From       string
	Recipient  string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// EmailNotifier posts digests to a Resend-compatible email API.
type EmailNotifier struct {
	endpoint  string
	apiKey    string
	from      string
	recipient string
	client    *http.Client
	logger    zerolog.Logger
}

func NewEmailNotifier(opts Options) *EmailNotifier {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &EmailNotifier{
		endpoint:  strings.TrimSpace(opts.Endpoint),
		apiKey:    opts.APIKey,
		from:      opts.From,
		recipient: opts.Recipient,
		client:    client,
		logger:    opts.Logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyNewArticles sends a digest listing at most ten articles.
func (n *EmailNotifier) NotifyNewArticles(ctx context.Context, articles []Article) error {
	if len(articles) == 0 {
		return nil
	}
	if n.endpoint == "" || n.recipient == "" {
		return fmt.Errorf("email notifier misconfigured")
	}

	listed := articles
	if len(listed) > maxDigestArticles {
		listed = listed[:maxDigestArticles]
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Trovati %d nuovi articoli:\n\n", len(articles))
	for _, article := range listed {
		fmt.Fprintf(&text, "- %s (%s)\n  %s\n", article.Title, article.Source, article.URL)
	}
	if len(articles) > maxDigestArticles {
		fmt.Fprintf(&text, "\n...e altri %d articoli.\n", len(articles)-maxDigestArticles)
	}

	body, err := json.Marshal(map[string]any{
		"from":    n.from,
		"to":      []string{n.recipient},
		"subject": fmt.Sprintf("Rassegna: %d nuovi articoli trovati", len(articles)),
		"text":    text.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("email provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	n.logger.Info().Int("articles", len(articles)).Str("recipient", n.recipient).Msg("digest email sent")
	return nil
}
