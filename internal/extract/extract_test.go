package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips tracking and sorts query",
			in:   "https://Example.COM:443/news/path/?utm_source=abc&fbclid=123&b=2&a=1",
			want: "https://example.com/news/path?a=1&b=2",
		},
		{
			name: "drops fragment and trailing slash",
			in:   "https://example.it/articolo/#commenti",
			want: "https://example.it/articolo",
		},
		{
			name: "keeps non-default port",
			in:   "http://example.it:8080/a",
			want: "http://example.it:8080/a",
		},
		{
			name: "empty path becomes root",
			in:   "https://example.it",
			want: "https://example.it/",
		},
		{
			name: "invalid input",
			in:   "not a url",
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := CanonicalURL(tc.in); got != tc.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

const samplePage = `<!DOCTYPE html>
<html lang="it">
<head>
<title>Titolo dal tag title</title>
<meta property="og:title" content="Titolo principale dell'articolo">
<meta property="og:image" content="https://example.it/img/copertina.jpg">
<meta property="article:published_time" content="2026-03-09T08:30:00Z">
<meta name="author" content="Maria Rossi">
</head>
<body>
<h1>Titolo principale dell'articolo</h1>
<article>
<p>Il consiglio comunale ha approvato ieri sera il nuovo piano urbanistico della citta dopo un
dibattito durato oltre quattro ore. La delibera introduce nuove aree verdi nei quartieri
periferici e vincoli piu severi sulle costruzioni nel centro storico. Il sindaco ha definito
il provvedimento un passo decisivo per il futuro della comunita e ha annunciato un ciclo di
incontri pubblici per illustrare i dettagli del piano ai cittadini nelle prossime settimane.</p>
<img src="/img/interna.jpg" width="800" alt="aula del consiglio">
<img src="/img/logo-testata.png" width="64" alt="logo">
</article>
</body>
</html>`

func TestParseMeta(t *testing.T) {
	t.Parallel()

	pageURL, _ := url.Parse("https://example.it/news/piano-urbanistico")
	meta := parseMeta(strings.NewReader(samplePage), pageURL)

	if meta.title != "Titolo principale dell'articolo" {
		t.Errorf("title = %q", meta.title)
	}
	if meta.author != "Maria Rossi" {
		t.Errorf("author = %q", meta.author)
	}
	if meta.publishedAt == nil || meta.publishedAt.UTC().Format("2006-01-02") != "2026-03-09" {
		t.Errorf("publishedAt = %v", meta.publishedAt)
	}

	want := []string{
		"https://example.it/img/copertina.jpg",
		"https://example.it/img/interna.jpg",
	}
	if len(meta.images) != len(want) {
		t.Fatalf("images = %v, want %v", meta.images, want)
	}
	for i := range want {
		if meta.images[i] != want[i] {
			t.Errorf("images[%d] = %q, want %q", i, meta.images[i], want[i])
		}
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer server.Close()

	extractor := New(Options{Logger: zerolog.Nop()})
	got, err := extractor.Extract(context.Background(), server.URL+"/news/piano?utm_source=rss")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got.Title != "Titolo principale dell'articolo" {
		t.Errorf("Title = %q", got.Title)
	}
	if !strings.Contains(got.Text, "piano urbanistico") {
		t.Errorf("Text missing body content: %q", got.Text)
	}
	if strings.Contains(got.CanonicalURL, "utm_source") {
		t.Errorf("CanonicalURL kept tracking params: %q", got.CanonicalURL)
	}
	if got.Language != "it" {
		t.Errorf("Language = %q, want it", got.Language)
	}
}

func TestExtractRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	extractor := New(Options{Logger: zerolog.Nop()})
	if _, err := extractor.Extract(context.Background(), server.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	raw := "  Prima riga  con  spazi \r\n\r\n Seconda   riga \r"
	want := "Prima riga con spazi\n\nSeconda riga"
	if got := CleanText(raw); got != want {
		t.Fatalf("CleanText = %q, want %q", got, want)
	}
}
