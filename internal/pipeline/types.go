// Package pipeline sequences candidate articles through extraction, dedupe,
// rewrite, quality gating and publication. It owns the per-article state
// machine, the per-run orchestration and the persisted run state read by the
// HTTP API.
package pipeline

import (
	"context"
	"time"

	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/extract"
	"rassegna.press/rassegna/internal/fetch"
	"rassegna.press/rassegna/internal/quality"
	"rassegna.press/rassegna/internal/rewrite"
	"rassegna.press/rassegna/internal/wp"
)

// Article outcome statuses.
const (
	StatusCreated = "created"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Run states and steps.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"

	StepFetching   = "fetching"
	StepProcessing = "processing"
	StepCompleted  = "completed"
)

// Timing map keys.
const (
	timingExtract = "extract"
	timingDedupe  = "dedupe"
	timingRewrite = "rewrite"
	timingQuality = "quality"
	timingPublish = "wp_post"
	timingTotal   = "total"
)

// Extractor turns a URL into clean article content.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*extract.Extracted, error)
}

// Rewriter produces an original article. Implementations never fail; they
// fall back to a deterministic stub instead.
type Rewriter interface {
	Rewrite(ctx context.Context, title, text, sourceName string) *rewrite.Rewritten
}

// Gate screens a rewritten article.
type Gate interface {
	Evaluate(ctx context.Context, article quality.Article, originalText string) quality.Verdict
}

// Deduper checks and registers article fingerprints.
type Deduper interface {
	CheckDuplicate(ctx context.Context, canonicalURL, title string) (dedupe.Decision, error)
	Register(ctx context.Context, canonicalURL, title, body string, publishedID *int64) (string, error)
}

// Publisher creates a draft post and returns its identifier.
type Publisher interface {
	CreateDraft(ctx context.Context, req wp.PublishRequest) (int64, error)
}

// Fetcher returns fresh candidates, newest first, already filtered by
// recency and whitelist.
type Fetcher interface {
	FetchCandidates(ctx context.Context, limit int) ([]fetch.Candidate, error)
}

// ProcessedMarker flags a URL as handed to the pipeline.
type ProcessedMarker interface {
	MarkProcessed(ctx context.Context, rawURL string) error
}

// RewriteSnapshot is the side-record persisted for every rewritten article,
// kept for later editorial inspection regardless of the gate verdict.
type RewriteSnapshot struct {
	URL        string
	SourceName string
	Original   *extract.Extracted
	Rewritten  *rewrite.Rewritten
	Verdict    quality.Verdict
}

// SnapshotStore persists rewrite snapshots.
type SnapshotStore interface {
	SaveRewriteSnapshot(ctx context.Context, snap RewriteSnapshot) error
}

// StateStore persists named state snapshots as overwrite-in-place records.
type StateStore interface {
	SaveSnapshot(ctx context.Context, name string, value any) error
	LoadSnapshot(ctx context.Context, name string, out any) (bool, error)
}

// ReportStore persists final run reports.
type ReportStore interface {
	SaveRunReport(ctx context.Context, report Report) error
}

// Outcome is the result of processing one candidate.
type Outcome struct {
	Status      string             `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	PublishedID *int64             `json:"published_id,omitempty"`
	Timing      map[string]float64 `json:"timing"`
	Verdict     *quality.Verdict   `json:"verdict,omitempty"`
}

// CurrentArticle identifies the candidate being processed right now.
type CurrentArticle struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// RunState is the single live record of pipeline progress, overwritten
// throughout a run and readable at any time.
type RunState struct {
	RunID           string          `json:"run_id"`
	Status          string          `json:"status"`
	CurrentStep     string          `json:"current_step"`
	CurrentArticle  *CurrentArticle `json:"current_article,omitempty"`
	TotalCandidates int             `json:"total_candidates"`
	Processed       int             `json:"processed"`
	Created         int             `json:"created"`
	Skipped         int             `json:"skipped"`
	Failed          int             `json:"failed"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Messages        []string        `json:"messages,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	RunID           string    `json:"run_id"`
	TotalCandidates int       `json:"total_candidates"`
	Processed       int       `json:"processed"`
	Created         int       `json:"created"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}
