package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNotifyNewArticles(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer chiave" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewEmailNotifier(Options{
		Endpoint:  server.URL,
		APIKey:    "chiave",
		From:      "robot@rassegna.press",
		Recipient: "redazione@rassegna.press",
		Logger:    zerolog.Nop(),
	})

	err := notifier.NotifyNewArticles(context.Background(), []Article{
		{Title: "Titolo uno", URL: "https://example.it/1", Source: "fonte"},
		{Title: "Titolo due", URL: "https://example.it/2", Source: "fonte"},
	})
	if err != nil {
		t.Fatalf("NotifyNewArticles: %v", err)
	}

	subject, _ := gotPayload["subject"].(string)
	if !strings.Contains(subject, "2 nuovi articoli") {
		t.Errorf("subject = %q", subject)
	}
	text, _ := gotPayload["text"].(string)
	if !strings.Contains(text, "Titolo uno") || !strings.Contains(text, "https://example.it/2") {
		t.Errorf("text = %q", text)
	}
}

func TestNotifyNewArticlesCapsDigest(t *testing.T) {
	t.Parallel()

	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
	}))
	defer server.Close()

	notifier := NewEmailNotifier(Options{
		Endpoint:  server.URL,
		Recipient: "redazione@rassegna.press",
		Logger:    zerolog.Nop(),
	})

	articles := make([]Article, 15)
	for i := range articles {
		articles[i] = Article{Title: fmt.Sprintf("Titolo %d", i+1), URL: fmt.Sprintf("https://example.it/%d", i+1)}
	}
	if err := notifier.NotifyNewArticles(context.Background(), articles); err != nil {
		t.Fatalf("NotifyNewArticles: %v", err)
	}

	text, _ := gotPayload["text"].(string)
	if strings.Contains(text, "Titolo 11") {
		t.Errorf("digest must list at most %d articles: %q", maxDigestArticles, text)
	}
	if !strings.Contains(text, "altri 5 articoli") {
		t.Errorf("digest must mention the overflow: %q", text)
	}
}

func TestNotifyNewArticlesEmptyList(t *testing.T) {
	t.Parallel()

	notifier := NewEmailNotifier(Options{Logger: zerolog.Nop()})
	if err := notifier.NotifyNewArticles(context.Background(), nil); err != nil {
		t.Fatalf("empty list must be a no-op, got %v", err)
	}
}

func TestNotifyNewArticlesProviderError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	notifier := NewEmailNotifier(Options{
		Endpoint:  server.URL,
		Recipient: "redazione@rassegna.press",
		Logger:    zerolog.Nop(),
	})
	err := notifier.NotifyNewArticles(context.Background(), []Article{{Title: "T", URL: "u"}})
	if err == nil {
		t.Fatal("expected provider error")
	}
}
