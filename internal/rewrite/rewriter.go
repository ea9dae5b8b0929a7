// Package rewrite produces an original Italian article from extracted source
// text. The rewriter calls an OpenAI-compatible chat completion endpoint and
// validates the returned JSON against an embedded schema. When the model is
// unreachable or returns garbage it falls back to a deterministic stub, so a
// pipeline run never stops at the rewrite step.
package rewrite

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

	"rassegna.press/rassegna/internal/globaltime"
)

const (
	defaultRequestTimeout = 90 * time.Second

	// Stub fallback keeps at most this much of the source text as body.
	stubBodyLimit = 2000
	stubLeadLines = 3
)

const systemPrompt = `Sei un giornalista italiano esperto. Riscrivi l'articolo fornito in modo completamente originale, mantenendo i fatti ma cambiando struttura e formulazione. Rispondi SOLO con un oggetto JSON con i campi: headline, lead, body_markdown, tags, category, meta_title, meta_description, word_count. Il body_markdown deve essere in Markdown, in italiano corretto, tra 300 e 800 parole. Non inventare fatti non presenti nel testo originale.`

// Rewritten is a rewritten article.
type Rewritten struct {
	Headline        string   `json:"headline"`
	Lead            string   `json:"lead"`
	BodyMarkdown    string   `json:"body_markdown"`
	Tags            []string `json:"tags,omitempty"`
	Category        string   `json:"category,omitempty"`
	MetaTitle       string   `json:"meta_title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	WordCount       int      `json:"word_count"`
	RewrittenAt     string   `json:"rewritten_at"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Options configures a Rewriter.
type Options struct {
	Endpoint   string
	Model      string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Rewriter struct {
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
	logger   zerolog.Logger
}

func New(opts Options) *Rewriter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Rewriter{
		endpoint: strings.TrimSpace(opts.Endpoint),
		model:    opts.Model,
		apiKey:   opts.APIKey,
		timeout:  timeout,
		client:   client,
		logger:   opts.Logger.With().Str("component", "rewrite").Logger(),
	}
}

// Rewrite produces an original article from the source title and text. It
// never returns an error: any model failure falls back to the stub.
func (r *Rewriter) Rewrite(ctx context.Context, title, text, sourceName string) *Rewritten {
	if r.endpoint == "" || r.model == "" {
		return Stub(title, text)
	}

	article, err := r.rewriteWithModel(ctx, title, text, sourceName)
	if err != nil {
		r.logger.Warn().Err(err).Str("title", title).Msg("model rewrite failed, using stub")
		return Stub(title, text)
	}
	return article
}

func (r *Rewriter) rewriteWithModel(ctx context.Context, title, text, sourceName string) (*Rewritten, error) {
	userPrompt := fmt.Sprintf("Fonte: %s\nTitolo originale: %s\n\nTesto originale:\n%s", sourceName, title, text)

	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	content := stripCodeFence(parsed.Choices[0].Message.Content)
	article, err := ValidatePayload([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("invalid model payload: %w", err)
	}

	if article.WordCount == 0 {
		article.WordCount = len(strings.Fields(article.BodyMarkdown))
	}
	if article.RewrittenAt == "" {
		article.RewrittenAt = globaltime.Now().Format(time.RFC3339)
	}
	return article, nil
}

// Stub is the deterministic fallback rewrite: the original title as headline,
// the first sentences as lead and a truncated copy of the source text as body.
func Stub(title, text string) *Rewritten {
	cleaned := strings.TrimSpace(text)
	lead := firstSentences(cleaned, stubLeadLines)
	body := cleaned
	if len(body) > stubBodyLimit {
		body = body[:stubBodyLimit]
	}

	return &Rewritten{
		Headline:     strings.TrimSpace(title),
		Lead:         lead,
		BodyMarkdown: body,
		WordCount:    len(strings.Fields(body)),
		RewrittenAt:  globaltime.Now().Format(time.RFC3339),
	}
}

func firstSentences(text string, n int) string {
	var sentences []string
	remaining := text
	for len(sentences) < n {
		idx := strings.IndexAny(remaining, ".!?")
		if idx < 0 {
			if trimmed := strings.TrimSpace(remaining); trimmed != "" {
				sentences = append(sentences, trimmed)
			}
			break
		}
		sentence := strings.TrimSpace(remaining[:idx+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		remaining = remaining[idx+1:]
	}
	return strings.Join(sentences, " ")
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
