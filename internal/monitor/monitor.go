// Package monitor runs the pipeline continuously on a polling timer. One
// background goroutine owns the tick loop; everything else reads snapshots
// or requests start/stop.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/globaltime"
	"rassegna.press/rassegna/internal/notify"
	"rassegna.press/rassegna/internal/pipeline"
)

const (
	// StateName keys the persisted monitor state snapshot.
	StateName = "monitor"

	lastArticlesCap = 10

	// Stop requests are honored within this interval during the
	// inter-tick sleep.
	stopCheckInterval = time.Second
)

// ArticleSummary is one entry in the last-processed ring buffer.
type ArticleSummary struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// State is the persisted monitor state.
type State struct {
	Running                bool             `json:"running"`
	StartedAt              *time.Time       `json:"started_at,omitempty"`
	LastCheck              *time.Time       `json:"last_check,omitempty"`
	PollIntervalSeconds    int              `json:"poll_interval_seconds"`
	TotalChecks            int              `json:"total_checks"`
	TotalArticlesFound     int              `json:"total_articles_found"`
	TotalArticlesProcessed int              `json:"total_articles_processed"`
	LastArticles           []ArticleSummary `json:"last_articles,omitempty"`
}

// Options wires the collaborators of a Monitor.
type Options struct {
	Fetcher   pipeline.Fetcher
	Processor *pipeline.Processor
	States    pipeline.StateStore
	Notifier  notify.Notifier
	Processed pipeline.ProcessedMarker

	PollInterval time.Duration
	// FetchLimit bounds one tick's candidate batch.
	FetchLimit   int
	ArticleDelay time.Duration
	Logger       zerolog.Logger
}

type Monitor struct {
	fetcher   pipeline.Fetcher
	processor *pipeline.Processor
	states    pipeline.StateStore
	notifier  notify.Notifier
	processed pipeline.ProcessedMarker

	pollInterval time.Duration
	fetchLimit   int
	articleDelay time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	state    State
	running  bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

func New(opts Options) *Monitor {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	fetchLimit := opts.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = 20
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Disabled{}
	}

	m := &Monitor{
		fetcher:      opts.Fetcher,
		processor:    opts.Processor,
		states:       opts.States,
		notifier:     notifier,
		processed:    opts.Processed,
		pollInterval: pollInterval,
		fetchLimit:   fetchLimit,
		articleDelay: opts.ArticleDelay,
		logger:       opts.Logger.With().Str("component", "monitor").Logger(),
		state: State{
			PollIntervalSeconds: int(pollInterval.Seconds()),
		},
	}
	return m
}

// Start launches the tick loop. Starting an already running monitor is a
// warned no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn().Msg("monitor already running, start ignored")
		return
	}
	now := globaltime.Now().UTC()
	m.running = true
	m.state.Running = true
	m.state.StartedAt = &now
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	snapshot := m.state
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.logger.Info().Dur("poll_interval", m.pollInterval).Int("fetch_limit", m.fetchLimit).Msg("monitor started")

	go m.loop(ctx, stop, done)
}

// Stop requests termination and waits for the loop to exit. Stopping a
// stopped monitor is a warned no-op. The monitor stays running until the
// loop has drained its in-flight article, so a concurrent Start cannot
// spawn a second loop in the meantime.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running || m.stopping {
		m.mu.Unlock()
		m.logger.Warn().Msg("monitor not running, stop ignored")
		return
	}
	m.stopping = true
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done

	m.mu.Lock()
	m.running = false
	m.stopping = false
	m.state.Running = false
	snapshot := m.state
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.logger.Info().Msg("monitor stopped")
}

// Running reports whether the tick loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// State returns a snapshot of the monitor state. It never waits on an
// in-flight tick.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state
	snapshot.LastArticles = append([]ArticleSummary(nil), m.state.LastArticles...)
	return snapshot
}

func (m *Monitor) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	for {
		m.tick(ctx, stop)

		if !m.sleep(ctx, stop) {
			return
		}
	}
}

// tick runs one polling cycle. A panic inside the cycle is logged and
// contained so the next tick still runs on schedule.
func (m *Monitor) tick(ctx context.Context, stop chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("monitor tick panicked")
		}
	}()

	now := globaltime.Now().UTC()
	candidates, err := m.fetcher.FetchCandidates(ctx, m.fetchLimit)
	if err != nil {
		m.logger.Error().Err(err).Msg("monitor fetch failed")
		m.updateState(ctx, func(state *State) {
			state.TotalChecks++
			state.LastCheck = &now
		})
		return
	}

	m.updateState(ctx, func(state *State) {
		state.TotalChecks++
		state.LastCheck = &now
		state.TotalArticlesFound += len(candidates)
	})
	m.logger.Info().Int("candidates", len(candidates)).Msg("monitor tick")

	if len(candidates) > 0 {
		summaries := make([]notify.Article, 0, len(candidates))
		for _, candidate := range candidates {
			summaries = append(summaries, notify.Article{
				URL:    candidate.URL,
				Title:  candidate.Title,
				Source: candidate.SourceName,
			})
		}
		if err := m.notifier.NotifyNewArticles(ctx, summaries); err != nil {
			m.logger.Warn().Err(err).Msg("notification failed")
		}
	}

	for i, candidate := range candidates {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		outcome := m.processor.Process(ctx, candidate)
		if m.processed != nil {
			if err := m.processed.MarkProcessed(ctx, candidate.URL); err != nil {
				m.logger.Warn().Err(err).Str("url", candidate.URL).Msg("seen ledger update failed")
			}
		}

		summary := ArticleSummary{
			URL:         candidate.URL,
			Title:       candidate.Title,
			Source:      candidate.SourceName,
			Status:      outcome.Status,
			ProcessedAt: globaltime.Now().UTC(),
		}
		m.updateState(ctx, func(state *State) {
			state.TotalArticlesProcessed++
			state.LastArticles = append(state.LastArticles, summary)
			if len(state.LastArticles) > lastArticlesCap {
				state.LastArticles = state.LastArticles[len(state.LastArticles)-lastArticlesCap:]
			}
		})

		if i < len(candidates)-1 && m.articleDelay > 0 {
			select {
			case <-stop:
				return
			case <-time.After(m.articleDelay):
			}
		}
	}
}

// sleep waits out the poll interval in short increments so a stop request
// does not have to wait for the next tick boundary. It reports whether the
// loop should continue.
func (m *Monitor) sleep(ctx context.Context, stop chan struct{}) bool {
	deadline := time.Now().Add(m.pollInterval)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining > stopCheckInterval {
			remaining = stopCheckInterval
		}
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(remaining):
		}
	}
	return true
}

func (m *Monitor) updateState(ctx context.Context, mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	m.persist(ctx, snapshot)
}

func (m *Monitor) persist(ctx context.Context, snapshot State) {
	if m.states == nil {
		return
	}
	if err := m.states.SaveSnapshot(ctx, StateName, snapshot); err != nil {
		m.logger.Warn().Err(err).Msg("monitor state not persisted")
	}
}
