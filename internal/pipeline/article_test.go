package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/extract"
	"rassegna.press/rassegna/internal/fetch"
	"rassegna.press/rassegna/internal/quality"
	"rassegna.press/rassegna/internal/rewrite"
	"rassegna.press/rassegna/internal/wp"
)

type fakeExtractor struct {
	result *extract.Extracted
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, rawURL string) (*extract.Extracted, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.URL = rawURL
	return &result, nil
}

type fakeDeduper struct {
	decision      dedupe.Decision
	checkErr      error
	checkCalls    int
	registerCalls int
	registeredID  *int64
}

func (f *fakeDeduper) CheckDuplicate(context.Context, string, string) (dedupe.Decision, error) {
	f.checkCalls++
	return f.decision, f.checkErr
}

func (f *fakeDeduper) Register(_ context.Context, canonicalURL, title, _ string, publishedID *int64) (string, error) {
	f.registerCalls++
	f.registeredID = publishedID
	return dedupe.Fingerprint(canonicalURL, title), nil
}

type fakeRewriter struct{}

func (fakeRewriter) Rewrite(_ context.Context, title, text, _ string) *rewrite.Rewritten {
	return rewrite.Stub(title, text)
}

type panickingRewriter struct{}

func (panickingRewriter) Rewrite(context.Context, string, string, string) *rewrite.Rewritten {
	panic("rewriter exploded")
}

type fakeGate struct {
	verdict quality.Verdict
}

func (f *fakeGate) Evaluate(context.Context, quality.Article, string) quality.Verdict {
	return f.verdict
}

type fakePublisher struct {
	id    int64
	err   error
	calls int
	last  wp.PublishRequest
}

func (f *fakePublisher) CreateDraft(_ context.Context, req wp.PublishRequest) (int64, error) {
	f.calls++
	f.last = req
	return f.id, f.err
}

type fakeSnapshots struct {
	saved []RewriteSnapshot
}

func (f *fakeSnapshots) SaveRewriteSnapshot(_ context.Context, snap RewriteSnapshot) error {
	f.saved = append(f.saved, snap)
	return nil
}

func passingVerdict() quality.Verdict {
	return quality.Verdict{Passed: true, RiskLevel: quality.RiskLow}
}

func goodExtract() *extract.Extracted {
	return &extract.Extracted{
		CanonicalURL: "https://example.it/articolo",
		Title:        "Approvato il nuovo piano urbanistico comunale",
		Text:         strings.Repeat("Il consiglio comunale ha approvato il piano dopo un lungo dibattito in aula. ", 10),
	}
}

func candidate() fetch.Candidate {
	return fetch.Candidate{URL: "https://example.it/articolo", Title: "Piano urbanistico", SourceName: "fonte"}
}

func newProcessor(extractor Extractor, dedup Deduper, gate Gate, publisher Publisher, snapshots SnapshotStore) *Processor {
	opts := ProcessorOptions{
		Extractor: extractor,
		Deduper:   dedup,
		Rewriter:  fakeRewriter{},
		Gate:      gate,
		Snapshots: snapshots,
		Logger:    zerolog.Nop(),
	}
	if publisher != nil {
		opts.Publisher = publisher
	}
	return NewProcessor(opts)
}

func TestProcessExtractionFailure(t *testing.T) {
	t.Parallel()

	dedup := &fakeDeduper{}
	processor := newProcessor(&fakeExtractor{err: errors.New("timeout")}, dedup, &fakeGate{verdict: passingVerdict()}, nil, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if dedup.checkCalls != 0 {
		t.Fatal("dedupe must not run after a failed extraction")
	}
	if _, ok := outcome.Timing[timingTotal]; !ok {
		t.Fatal("timing must always carry a total entry")
	}
}

func TestProcessShortTitleSkipsBeforeDedupe(t *testing.T) {
	t.Parallel()

	extracted := goodExtract()
	extracted.Title = "Corto"
	dedup := &fakeDeduper{}
	processor := newProcessor(&fakeExtractor{result: extracted}, dedup, &fakeGate{verdict: passingVerdict()}, nil, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "title") {
		t.Fatalf("reason must name the title, got %q", outcome.Reason)
	}
	if dedup.checkCalls != 0 {
		t.Fatal("dedupe must not run for a short title")
	}
}

func TestProcessShortContentSkips(t *testing.T) {
	t.Parallel()

	extracted := goodExtract()
	extracted.Text = "Poco testo."
	processor := newProcessor(&fakeExtractor{result: extracted}, &fakeDeduper{}, &fakeGate{verdict: passingVerdict()}, nil, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusSkipped || !strings.Contains(outcome.Reason, "content") {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestProcessDuplicateSkips(t *testing.T) {
	t.Parallel()

	dedup := &fakeDeduper{decision: dedupe.Decision{Duplicate: true, Reason: dedupe.ReasonExactMatch}}
	publisher := &fakePublisher{id: 1}
	processor := newProcessor(&fakeExtractor{result: goodExtract()}, dedup, &fakeGate{verdict: passingVerdict()}, publisher, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", outcome.Status)
	}
	if outcome.Reason != "duplicate: exact_match" {
		t.Fatalf("reason = %q", outcome.Reason)
	}
	if publisher.calls != 0 {
		t.Fatal("duplicates must not be published")
	}
}

func TestProcessQualityGateRejection(t *testing.T) {
	t.Parallel()

	snapshots := &fakeSnapshots{}
	gate := &fakeGate{verdict: quality.Verdict{
		Passed:    false,
		RiskLevel: quality.RiskHigh,
		Issues:    []string{"Contenuto ad alto rischio: keyword 'diffamazione' trovata"},
	}}
	publisher := &fakePublisher{id: 1}
	processor := newProcessor(&fakeExtractor{result: goodExtract()}, &fakeDeduper{}, gate, publisher, snapshots)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusSkipped {
		t.Fatalf("status = %s, want skipped", outcome.Status)
	}
	if !strings.HasPrefix(outcome.Reason, "quality_gate_failed: ") {
		t.Fatalf("reason = %q", outcome.Reason)
	}
	if len(snapshots.saved) != 1 {
		t.Fatal("rewrite snapshot must be persisted even for rejected articles")
	}
	if publisher.calls != 0 {
		t.Fatal("rejected articles must not be published")
	}
}

func TestProcessWithoutPublisher(t *testing.T) {
	t.Parallel()

	dedup := &fakeDeduper{}
	processor := newProcessor(&fakeExtractor{result: goodExtract()}, dedup, &fakeGate{verdict: passingVerdict()}, nil, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusSkipped || outcome.Reason != "wp_client_not_configured" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if dedup.registerCalls != 0 {
		t.Fatal("unpublished articles must not be registered")
	}
}

func TestProcessPublishWithoutID(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{id: 0}
	processor := newProcessor(&fakeExtractor{result: goodExtract()}, &fakeDeduper{}, &fakeGate{verdict: passingVerdict()}, publisher, nil)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusFailed || !strings.HasPrefix(outcome.Reason, "publish_creation_failed") {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestProcessCreated(t *testing.T) {
	t.Parallel()

	dedup := &fakeDeduper{}
	publisher := &fakePublisher{id: 42}
	snapshots := &fakeSnapshots{}
	processor := newProcessor(&fakeExtractor{result: goodExtract()}, dedup, &fakeGate{verdict: passingVerdict()}, publisher, snapshots)

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusCreated {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.PublishedID == nil || *outcome.PublishedID != 42 {
		t.Fatalf("PublishedID = %v", outcome.PublishedID)
	}
	if dedup.registerCalls != 1 || dedup.registeredID == nil || *dedup.registeredID != 42 {
		t.Fatalf("register calls = %d, id = %v", dedup.registerCalls, dedup.registeredID)
	}
	if publisher.last.OriginalTitle == "" || publisher.last.SourceURL != "https://example.it/articolo" {
		t.Fatalf("publish request = %+v", publisher.last)
	}
	if len(snapshots.saved) != 1 {
		t.Fatal("rewrite snapshot must be persisted")
	}

	for _, key := range []string{timingExtract, timingDedupe, timingRewrite, timingQuality, timingPublish, timingTotal} {
		if _, ok := outcome.Timing[key]; !ok {
			t.Errorf("timing missing %q entry", key)
		}
	}
}

func TestProcessRecoversFromPanic(t *testing.T) {
	t.Parallel()

	processor := NewProcessor(ProcessorOptions{
		Extractor: &fakeExtractor{result: goodExtract()},
		Deduper:   &fakeDeduper{},
		Rewriter:  panickingRewriter{},
		Gate:      &fakeGate{verdict: passingVerdict()},
		Logger:    zerolog.Nop(),
	})

	outcome := processor.Process(context.Background(), candidate())
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", outcome.Status)
	}
	if !strings.Contains(outcome.Reason, "panic") {
		t.Fatalf("reason = %q", outcome.Reason)
	}
	if _, ok := outcome.Timing[timingTotal]; !ok {
		t.Fatal("timing must carry a total entry even after a panic")
	}
}
