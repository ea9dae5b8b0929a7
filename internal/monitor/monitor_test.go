package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/extract"
	"rassegna.press/rassegna/internal/fetch"
	"rassegna.press/rassegna/internal/notify"
	"rassegna.press/rassegna/internal/pipeline"
	"rassegna.press/rassegna/internal/quality"
	"rassegna.press/rassegna/internal/rewrite"
)

type stubFetcher struct {
	mu         sync.Mutex
	candidates []fetch.Candidate
	err        error
	calls      int
}

func (f *stubFetcher) FetchCandidates(context.Context, int) ([]fetch.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.candidates, f.err
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, rawURL string) (*extract.Extracted, error) {
	return &extract.Extracted{
		URL:          rawURL,
		CanonicalURL: rawURL,
		Title:        "Titolo abbastanza lungo per il controllo",
		Text: "Il consiglio comunale ha approvato il nuovo piano urbanistico della citta " +
			"dopo un dibattito durato diverse ore, con il voto favorevole della maggioranza.",
	}, nil
}

type stubDeduper struct{}

func (stubDeduper) CheckDuplicate(context.Context, string, string) (dedupe.Decision, error) {
	return dedupe.Decision{}, nil
}

func (stubDeduper) Register(context.Context, string, string, string, *int64) (string, error) {
	return "fp", nil
}

type stubRewriter struct{}

func (stubRewriter) Rewrite(_ context.Context, title, text, _ string) *rewrite.Rewritten {
	return rewrite.Stub(title, text)
}

type stubGate struct{}

func (stubGate) Evaluate(context.Context, quality.Article, string) quality.Verdict {
	return quality.Verdict{Passed: true, RiskLevel: quality.RiskLow}
}

type captureNotifier struct {
	mu     sync.Mutex
	err    error
	calls  int
	lastN  int
	titles []string
}

func (n *captureNotifier) NotifyNewArticles(_ context.Context, articles []notify.Article) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.lastN = len(articles)
	for _, article := range articles {
		n.titles = append(n.titles, article.Title)
	}
	return n.err
}

func testProcessor() *pipeline.Processor {
	return pipeline.NewProcessor(pipeline.ProcessorOptions{
		Extractor: stubExtractor{},
		Deduper:   stubDeduper{},
		Rewriter:  stubRewriter{},
		Gate:      stubGate{},
		Logger:    zerolog.Nop(),
	})
}

func newTestMonitor(fetcher pipeline.Fetcher, notifier notify.Notifier) *Monitor {
	return New(Options{
		Fetcher:      fetcher,
		Processor:    testProcessor(),
		Notifier:     notifier,
		PollInterval: 50 * time.Millisecond,
		FetchLimit:   20,
		Logger:       zerolog.Nop(),
	})
}

func candidates(n int) []fetch.Candidate {
	out := make([]fetch.Candidate, n)
	for i := range out {
		out[i] = fetch.Candidate{
			URL:        fmt.Sprintf("https://example.it/%d", i+1),
			Title:      fmt.Sprintf("Articolo %d", i+1),
			SourceName: "fonte",
		}
	}
	return out
}

func TestStopWithoutStartIsNoOp(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(&stubFetcher{}, nil)
	m.Stop(context.Background())
	if m.Running() {
		t.Fatal("monitor must not be running")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	m := newTestMonitor(fetcher, nil)
	ctx := context.Background()

	m.Start(ctx)
	m.Start(ctx)
	if !m.Running() {
		t.Fatal("monitor must be running after start")
	}

	m.Stop(ctx)
	if m.Running() {
		t.Fatal("monitor must be stopped after stop")
	}
	// A second stop must not panic or hang.
	m.Stop(ctx)
}

type blockingFetcher struct {
	stubFetcher
	release chan struct{}
}

func (f *blockingFetcher) FetchCandidates(ctx context.Context, limit int) ([]fetch.Candidate, error) {
	<-f.release
	return f.stubFetcher.FetchCandidates(ctx, limit)
}

func TestStartDuringStopDrainDoesNotSpawnSecondLoop(t *testing.T) {
	t.Parallel()

	fetcher := &blockingFetcher{release: make(chan struct{})}
	m := newTestMonitor(fetcher, nil)
	ctx := context.Background()

	m.Start(ctx)

	stopped := make(chan struct{})
	go func() {
		m.Stop(ctx)
		close(stopped)
	}()

	// Wait for Stop to begin draining the in-flight tick.
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		draining := m.stopping
		m.mu.Unlock()
		if draining {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stop never began draining")
		}
		time.Sleep(time.Millisecond)
	}

	// The loop has not exited yet, so this start must be ignored.
	m.Start(ctx)

	close(fetcher.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not complete")
	}

	if m.Running() {
		t.Fatal("monitor must be stopped after drain")
	}
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("expected a single tick from a single loop, got %d fetches", got)
	}
}

func TestTickUpdatesCountersAndRingBuffer(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{candidates: candidates(12)}
	notifier := &captureNotifier{}
	m := newTestMonitor(fetcher, notifier)

	m.tick(context.Background(), make(chan struct{}))

	state := m.State()
	if state.TotalChecks != 1 {
		t.Fatalf("TotalChecks = %d, want 1", state.TotalChecks)
	}
	if state.TotalArticlesFound != 12 {
		t.Fatalf("TotalArticlesFound = %d, want 12", state.TotalArticlesFound)
	}
	if state.TotalArticlesProcessed != 12 {
		t.Fatalf("TotalArticlesProcessed = %d, want 12", state.TotalArticlesProcessed)
	}
	if len(state.LastArticles) != lastArticlesCap {
		t.Fatalf("LastArticles = %d, want %d", len(state.LastArticles), lastArticlesCap)
	}
	if state.LastArticles[len(state.LastArticles)-1].URL != "https://example.it/12" {
		t.Fatalf("ring buffer must keep the newest entries, got %+v", state.LastArticles[len(state.LastArticles)-1])
	}
	if state.LastCheck == nil {
		t.Fatal("LastCheck must be set after a tick")
	}

	if notifier.calls != 1 || notifier.lastN != 12 {
		t.Fatalf("notifier calls = %d with %d articles", notifier.calls, notifier.lastN)
	}
}

func TestTickContainsFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: errors.New("feed down")}
	m := newTestMonitor(fetcher, nil)

	m.tick(context.Background(), make(chan struct{}))
	m.tick(context.Background(), make(chan struct{}))

	state := m.State()
	if state.TotalChecks != 2 {
		t.Fatalf("TotalChecks = %d, want 2", state.TotalChecks)
	}
	if state.TotalArticlesFound != 0 {
		t.Fatalf("TotalArticlesFound = %d, want 0", state.TotalArticlesFound)
	}
}

func TestTickSwallowsNotifierFailure(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{candidates: candidates(2)}
	notifier := &captureNotifier{err: errors.New("smtp down")}
	m := newTestMonitor(fetcher, notifier)

	m.tick(context.Background(), make(chan struct{}))

	state := m.State()
	if state.TotalArticlesProcessed != 2 {
		t.Fatalf("processing must continue after a notification failure, processed = %d", state.TotalArticlesProcessed)
	}
}

func TestLoopTicksOnSchedule(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	m := newTestMonitor(fetcher, nil)
	ctx := context.Background()

	m.Start(ctx)
	time.Sleep(180 * time.Millisecond)
	m.Stop(ctx)

	if calls := fetcher.callCount(); calls < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", calls)
	}
	state := m.State()
	if state.Running {
		t.Fatal("state must report stopped")
	}
	if state.StartedAt == nil {
		t.Fatal("StartedAt must be set")
	}
}
