package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 45 * time.Second
	defaultMaxLength      = 512
)

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// HTTPOracle computes similarity as the cosine of embeddings fetched from an
// embedding service. Both the native {"texts": ...} shape and the OpenAI
// /v1/embeddings {"input": ...} shape are supported.
type HTTPOracle struct {
	endpoint       string
	maxLength      int
	requestTimeout time.Duration
	client         *http.Client
}

type HTTPOracleOption func(*HTTPOracle)

func WithRequestTimeout(d time.Duration) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

func WithHTTPClient(client *http.Client) HTTPOracleOption {
	return func(o *HTTPOracle) {
		if client != nil {
			o.client = client
		}
	}
}

func NewHTTPOracle(endpoint string, opts ...HTTPOracleOption) *HTTPOracle {
	oracle := &HTTPOracle{
		endpoint:       normalizeEndpoint(endpoint),
		maxLength:      defaultMaxLength,
		requestTimeout: defaultRequestTimeout,
		client:         http.DefaultClient,
	}
	for _, opt := range opts {
		opt(oracle)
	}
	return oracle
}

func (o *HTTPOracle) Similarity(ctx context.Context, left, right string) (float64, error) {
	if o == nil || strings.TrimSpace(o.endpoint) == "" {
		return 0, ErrUnavailable
	}

	vectors, err := o.requestEmbeddings(ctx, []string{left, right})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, fmt.Errorf("embedding response count mismatch: requested=2 returned=%d", len(vectors))
	}

	return cosine(vectors[0], vectors[1])
}

func (o *HTTPOracle) requestEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	payload := embedRequest{
		Texts:     texts,
		MaxLength: o.maxLength,
	}
	parsedEndpoint, err := url.Parse(o.endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}

	return vectors, nil
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
