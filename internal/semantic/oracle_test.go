package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite clamped to zero", a: []float64{1, 0}, b: []float64{-1, 0}, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := cosine(tc.a, tc.b)
			if err != nil {
				t.Fatalf("cosine returned error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("cosine = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestCosineDimensionMismatch(t *testing.T) {
	t.Parallel()

	if _, err := cosine([]float64{1, 2}, []float64{1, 2, 3}); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestUnavailableOracle(t *testing.T) {
	t.Parallel()

	var oracle Unavailable
	if _, err := oracle.Similarity(context.Background(), "a", "b"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPOracleSimilarity(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Texts) != 2 {
			t.Errorf("expected 2 texts, got %d", len(req.Texts))
		}
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{1, 0}, {1, 0}},
		})
	}))
	defer server.Close()

	oracle := NewHTTPOracle(server.URL)
	got, err := oracle.Similarity(context.Background(), "titolo uno", "titolo due")
	if err != nil {
		t.Fatalf("Similarity returned error: %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("Similarity = %f, want 1", got)
	}
}

func TestHTTPOracleOpenAIResponseShape(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("expected input of 2, got %d", len(req.Input))
		}
		resp := embedResponse{}
		resp.Data = []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{
			{Index: 1, Embedding: []float64{0, 1}},
			{Index: 0, Embedding: []float64{0, 1}},
		}
		json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	oracle := NewHTTPOracle(server.URL + "/v1/embeddings")
	got, err := oracle.Similarity(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Similarity returned error: %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("Similarity = %f, want 1", got)
	}
}

func TestHTTPOracleServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	oracle := NewHTTPOracle(server.URL)
	if _, err := oracle.Similarity(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error on 503 response")
	}
}
