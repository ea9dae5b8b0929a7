package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/extract"
	"rassegna.press/rassegna/internal/fetch"
	"rassegna.press/rassegna/internal/quality"
	"rassegna.press/rassegna/internal/rewrite"
	"rassegna.press/rassegna/internal/wp"
)

const (
	minTitleChars   = 10
	minContentChars = 100

	aiVersion = "rassegna/1"
)

// ProcessorOptions wires the collaborators of an article processor. Publisher
// may be nil: candidates then stop at the publish step as skipped, which is
// how dry runs operate.
type ProcessorOptions struct {
	Extractor Extractor
	Deduper   Deduper
	Rewriter  Rewriter
	Gate      Gate
	Publisher Publisher
	Snapshots SnapshotStore
	// Maps rewrite categories to site category names.
	CategoryMapping map[string]string
	Logger          zerolog.Logger
}

// Processor runs one candidate through the article state machine.
type Processor struct {
	extractor  Extractor
	dedup      Deduper
	rewriter   Rewriter
	gate       Gate
	publisher  Publisher
	snapshots  SnapshotStore
	categories map[string]string
	logger     zerolog.Logger
}

func NewProcessor(opts ProcessorOptions) *Processor {
	return &Processor{
		extractor:  opts.Extractor,
		dedup:      opts.Deduper,
		rewriter:   opts.Rewriter,
		gate:       opts.Gate,
		publisher:  opts.Publisher,
		snapshots:  opts.Snapshots,
		categories: opts.CategoryMapping,
		logger:     opts.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Process advances a candidate through extract, content check, dedupe,
// rewrite, quality check, publish and register. The first failing step
// terminates processing; the outcome's timing map always carries a total
// entry. Process never panics out to the caller.
func (p *Processor) Process(ctx context.Context, candidate fetch.Candidate) (outcome Outcome) {
	timing := make(map[string]float64)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("url", candidate.URL).Msg("article processing panicked")
			outcome = Outcome{Status: StatusFailed, Reason: fmt.Sprintf("panic: %v", r)}
		}
		timing[timingTotal] = time.Since(start).Seconds()
		outcome.Timing = timing
	}()

	outcome = p.process(ctx, candidate, timing)
	return outcome
}

func (p *Processor) process(ctx context.Context, candidate fetch.Candidate, timing map[string]float64) Outcome {
	logger := p.logger.With().Str("url", candidate.URL).Logger()

	stepStart := time.Now()
	extracted, err := p.extractor.Extract(ctx, candidate.URL)
	timing[timingExtract] = time.Since(stepStart).Seconds()
	if err != nil {
		logger.Error().Err(err).Msg("extraction failed")
		return Outcome{Status: StatusFailed, Reason: fmt.Sprintf("extract_failed: %v", err)}
	}

	title := strings.TrimSpace(extracted.Title)
	text := strings.TrimSpace(extracted.Text)
	if titleLen := utf8.RuneCountInString(title); titleLen < minTitleChars {
		return Outcome{Status: StatusSkipped, Reason: fmt.Sprintf("empty_title: %d caratteri", titleLen)}
	}
	if textLen := utf8.RuneCountInString(text); textLen < minContentChars {
		return Outcome{Status: StatusSkipped, Reason: fmt.Sprintf("empty_content: %d caratteri", textLen)}
	}

	stepStart = time.Now()
	decision, err := p.dedup.CheckDuplicate(ctx, extracted.CanonicalURL, title)
	timing[timingDedupe] = time.Since(stepStart).Seconds()
	if err != nil {
		logger.Error().Err(err).Msg("duplicate check failed")
		return Outcome{Status: StatusFailed, Reason: fmt.Sprintf("dedupe_failed: %v", err)}
	}
	if decision.Duplicate {
		logger.Info().Str("reason", decision.Reason).Msg("duplicate skipped")
		return Outcome{Status: StatusSkipped, Reason: "duplicate: " + decision.Reason}
	}

	stepStart = time.Now()
	rewritten := p.rewriter.Rewrite(ctx, title, text, candidate.SourceName)
	timing[timingRewrite] = time.Since(stepStart).Seconds()

	stepStart = time.Now()
	verdict := p.gate.Evaluate(ctx, quality.Article{
		Headline: rewritten.Headline,
		Lead:     rewritten.Lead,
		Body:     rewritten.BodyMarkdown,
	}, text)
	timing[timingQuality] = time.Since(stepStart).Seconds()

	if p.snapshots != nil {
		snap := RewriteSnapshot{
			URL:        candidate.URL,
			SourceName: candidate.SourceName,
			Original:   extracted,
			Rewritten:  rewritten,
			Verdict:    verdict,
		}
		if err := p.snapshots.SaveRewriteSnapshot(ctx, snap); err != nil {
			logger.Warn().Err(err).Msg("rewrite snapshot not persisted")
		}
	}

	if !verdict.Passed || verdict.RiskLevel == quality.RiskHigh {
		logger.Info().Strs("issues", verdict.Issues).Str("risk", verdict.RiskLevel).Msg("quality gate rejected article")
		return Outcome{
			Status:  StatusSkipped,
			Reason:  "quality_gate_failed: " + strings.Join(verdict.Issues, ", "),
			Verdict: &verdict,
		}
	}

	if p.publisher == nil {
		return Outcome{Status: StatusSkipped, Reason: "wp_client_not_configured", Verdict: &verdict}
	}

	stepStart = time.Now()
	publishedID, err := p.publish(ctx, candidate, extracted, rewritten, verdict)
	timing[timingPublish] = time.Since(stepStart).Seconds()
	if err != nil {
		logger.Error().Err(err).Msg("publish failed")
		return Outcome{Status: StatusFailed, Reason: fmt.Sprintf("publish_creation_failed: %v", err), Verdict: &verdict}
	}
	if publishedID == 0 {
		return Outcome{Status: StatusFailed, Reason: "publish_creation_failed", Verdict: &verdict}
	}

	fingerprintID, err := p.dedup.Register(ctx, extracted.CanonicalURL, title, text, &publishedID)
	if err != nil {
		logger.Error().Err(err).Msg("fingerprint registration failed")
		return Outcome{Status: StatusFailed, Reason: fmt.Sprintf("register_failed: %v", err), PublishedID: &publishedID, Verdict: &verdict}
	}

	logger.Info().Int64("published_id", publishedID).Str("fingerprint_id", fingerprintID).Msg("article created")
	return Outcome{Status: StatusCreated, PublishedID: &publishedID, Verdict: &verdict}
}

func (p *Processor) publish(ctx context.Context, candidate fetch.Candidate, extracted *extract.Extracted, rewritten *rewrite.Rewritten, verdict quality.Verdict) (int64, error) {
	category := rewritten.Category
	if mapped, ok := p.categories[strings.ToLower(category)]; ok {
		category = mapped
	}

	var publishedAt string
	if extracted.PublishedAt != nil {
		publishedAt = extracted.PublishedAt.UTC().Format(time.RFC3339)
	}
	var featuredImage string
	if len(extracted.Images) > 0 {
		featuredImage = extracted.Images[0]
	}

	return p.publisher.CreateDraft(ctx, wp.PublishRequest{
		Title:             rewritten.Headline,
		BodyMarkdown:      rewritten.BodyMarkdown,
		Excerpt:           rewritten.Lead,
		CategoryName:      category,
		Tags:              rewritten.Tags,
		FeaturedImageURL:  featuredImage,
		SourceName:        candidate.SourceName,
		SourceURL:         candidate.URL,
		SourcePublishedAt: publishedAt,
		SourceHash:        dedupe.Fingerprint(extracted.CanonicalURL, extracted.Title),
		AIVersion:         aiVersion,
		RiskLevel:         verdict.RiskLevel,
		NeedsReview:       verdict.NeedsReview,
		OriginalTitle:     extracted.Title,
	})
}
