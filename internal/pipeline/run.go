package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/audit"
	"rassegna.press/rassegna/internal/globaltime"
)

const (
	// RunStateName keys the live run state snapshot.
	RunStateName = "pipeline"

	maxStateMessages     = 20
	currentTitleMaxChars = 80
)

// RunnerOptions wires the collaborators of a run orchestrator.
type RunnerOptions struct {
	Fetcher   Fetcher
	Processor *Processor
	States    StateStore
	Reports   ReportStore
	Audit     audit.Sink
	Processed ProcessedMarker
	// Delay applied between consecutive articles.
	ArticleDelay time.Duration
	Logger       zerolog.Logger
}

// Runner executes full pipeline runs: fetch candidates, process them
// sequentially and keep the persisted RunState current throughout.
type Runner struct {
	fetcher   Fetcher
	processor *Processor
	states    StateStore
	reports   ReportStore
	audit     audit.Sink
	processed ProcessedMarker
	delay     time.Duration
	logger    zerolog.Logger

	mu    sync.Mutex
	state *RunState
}

func NewRunner(opts RunnerOptions) *Runner {
	sink := opts.Audit
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Runner{
		fetcher:   opts.Fetcher,
		processor: opts.Processor,
		states:    opts.States,
		reports:   opts.Reports,
		audit:     sink,
		processed: opts.Processed,
		delay:     opts.ArticleDelay,
		logger:    opts.Logger.With().Str("component", "run").Logger(),
	}
}

// State returns a snapshot of the current run state, or nil when no run has
// happened yet in this process. It never blocks on pipeline progress.
func (r *Runner) State() *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil
	}
	snapshot := *r.state
	if r.state.CurrentArticle != nil {
		article := *r.state.CurrentArticle
		snapshot.CurrentArticle = &article
	}
	snapshot.Messages = append([]string(nil), r.state.Messages...)
	return &snapshot
}

// Run fetches up to limit candidates and processes them sequentially. The
// run state always ends completed, even when fetching fails or the context
// is cancelled mid-run, and a run report is persisted either way.
func (r *Runner) Run(ctx context.Context, limit int) (Report, error) {
	runID := uuid.NewString()[:8]
	logger := r.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("limit", limit).Msg("run started")

	r.updateState(ctx, func(state *RunState) {
		*state = RunState{
			RunID:       runID,
			Status:      RunStatusRunning,
			CurrentStep: StepFetching,
			StartedAt:   globaltime.Now().UTC(),
		}
	})

	var runErr error
	defer func() {
		report := r.finalize(ctx)
		logger.Info().
			Int("processed", report.Processed).
			Int("created", report.Created).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("run finished")
	}()

	candidates, err := r.fetcher.FetchCandidates(ctx, limit)
	if err != nil {
		runErr = fmt.Errorf("fetch candidates: %w", err)
		logger.Error().Err(err).Msg("candidate fetch failed")
		r.updateState(ctx, func(state *RunState) {
			state.appendMessage("recupero candidati fallito: " + err.Error())
		})
		return r.report(), runErr
	}

	r.updateState(ctx, func(state *RunState) {
		state.CurrentStep = StepProcessing
		state.TotalCandidates = len(candidates)
		state.appendMessage(fmt.Sprintf("trovati %d candidati", len(candidates)))
	})

	for i, candidate := range candidates {
		if ctx.Err() != nil {
			logger.Warn().Msg("run cancelled")
			r.updateState(ctx, func(state *RunState) {
				state.appendMessage("esecuzione interrotta")
			})
			runErr = ctx.Err()
			break
		}

		article := CurrentArticle{
			URL:   candidate.URL,
			Title: truncateRunes(candidate.Title, currentTitleMaxChars),
			Index: i + 1,
			Total: len(candidates),
		}
		r.updateState(ctx, func(state *RunState) {
			state.CurrentArticle = &article
		})

		outcome := r.processor.Process(ctx, candidate)
		r.recordOutcome(ctx, runID, candidate.URL, outcome)

		if r.processed != nil {
			if err := r.processed.MarkProcessed(ctx, candidate.URL); err != nil {
				logger.Warn().Err(err).Str("url", candidate.URL).Msg("seen ledger update failed")
			}
		}

		if i < len(candidates)-1 && r.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.delay):
			}
		}
	}

	return r.report(), runErr
}

func (r *Runner) recordOutcome(ctx context.Context, runID, url string, outcome Outcome) {
	r.updateState(ctx, func(state *RunState) {
		state.Processed++
		switch outcome.Status {
		case StatusCreated:
			state.Created++
		case StatusSkipped:
			state.Skipped++
		case StatusFailed:
			state.Failed++
		}
		state.CurrentArticle = nil
		message := fmt.Sprintf("%s: %s", outcome.Status, url)
		if outcome.Reason != "" {
			message += " (" + outcome.Reason + ")"
		}
		state.appendMessage(message)
	})

	entry := audit.Entry{
		RunID:     runID,
		Operation: "process_article",
		URL:       url,
		Status:    outcome.Status,
		Detail:    outcome.Reason,
		Extra:     map[string]any{"timing": outcome.Timing},
	}
	if outcome.PublishedID != nil {
		entry.Extra["published_id"] = *outcome.PublishedID
	}
	r.audit.LogOperation(entry)
}

// finalize closes the run state and persists the report. It runs on every
// exit path so no state is ever left dangling in "running".
func (r *Runner) finalize(ctx context.Context) Report {
	// Finalization must succeed even after a cancelled run.
	ctx = context.WithoutCancel(ctx)

	completedAt := globaltime.Now().UTC()
	r.updateState(ctx, func(state *RunState) {
		state.Status = RunStatusCompleted
		state.CurrentStep = StepCompleted
		state.CurrentArticle = nil
		state.CompletedAt = &completedAt
	})

	report := r.report()
	if r.reports != nil {
		if err := r.reports.SaveRunReport(ctx, report); err != nil {
			r.logger.Error().Err(err).Str("run_id", report.RunID).Msg("run report not persisted")
		}
	}
	return report
}

func (r *Runner) report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{
		RunID:           r.state.RunID,
		TotalCandidates: r.state.TotalCandidates,
		Processed:       r.state.Processed,
		Created:         r.state.Created,
		Skipped:         r.state.Skipped,
		Failed:          r.state.Failed,
		StartedAt:       r.state.StartedAt,
	}
	if r.state.CompletedAt != nil {
		report.CompletedAt = *r.state.CompletedAt
	}
	return report
}

// updateState mutates the in-memory state under the lock and then persists a
// snapshot. Persistence failures are logged, never fatal mid-run.
func (r *Runner) updateState(ctx context.Context, mutate func(*RunState)) {
	r.mu.Lock()
	if r.state == nil {
		r.state = &RunState{}
	}
	mutate(r.state)
	snapshot := *r.state
	r.mu.Unlock()

	if r.states != nil {
		if err := r.states.SaveSnapshot(ctx, RunStateName, snapshot); err != nil {
			r.logger.Warn().Err(err).Msg("run state not persisted")
		}
	}
}

func (s *RunState) appendMessage(message string) {
	s.Messages = append(s.Messages, message)
	if len(s.Messages) > maxStateMessages {
		s.Messages = s.Messages[len(s.Messages)-maxStateMessages:]
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
