package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/audit"
	"rassegna.press/rassegna/internal/config"
	"rassegna.press/rassegna/internal/db"
	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/extract"
	"rassegna.press/rassegna/internal/fetch"
	"rassegna.press/rassegna/internal/monitor"
	"rassegna.press/rassegna/internal/notify"
	"rassegna.press/rassegna/internal/pipeline"
	"rassegna.press/rassegna/internal/quality"
	"rassegna.press/rassegna/internal/rewrite"
	"rassegna.press/rassegna/internal/semantic"
	"rassegna.press/rassegna/internal/wp"
)

// components holds the wired pipeline collaborators shared by the run,
// monitor and serve commands.
type components struct {
	recorder  *pipeline.Recorder
	ledger    *dedupe.SeenLedger
	processor *pipeline.Processor
	runner    *pipeline.Runner
	monitor   *monitor.Monitor
	audit     audit.Sink
}

// close releases resources owned by the components, currently only the
// audit sink.
func (c *components) close() {
	if c.audit != nil {
		_ = c.audit.Close()
	}
}

func buildComponents(cfg *config.Config, logger zerolog.Logger, pool *db.Pool) (*components, error) {
	sources, err := config.LoadSources(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load sources config: %w", err)
	}
	categories, err := config.LoadCategories(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load categories config: %w", err)
	}

	recorder := pipeline.NewRecorder(pool)
	ledger := dedupe.NewSeenLedger(pool)

	var oracle semantic.Oracle = semantic.Unavailable{}
	if cfg.EmbeddingEndpoint != "" {
		oracle = semantic.NewHTTPOracle(cfg.EmbeddingEndpoint)
	}

	deduper := dedupe.New(dedupe.NewPostgresStore(pool), oracle, cfg.SimilarityThreshold, logger)
	gate := quality.New(oracle, cfg.MinArticleLength, cfg.MaxArticleLength, cfg.SimilarityThreshold, logger)

	fetcher := fetch.New(fetch.Options{
		Sources:       sources,
		Ledger:        ledger,
		RateLimit:     time.Duration(cfg.FetchRateLimitSeconds) * time.Second,
		RecencyWindow: time.Duration(cfg.RecencyWindowHours) * time.Hour,
		Logger:        logger,
	})

	extractor := extract.New(extract.Options{
		Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	rewriter := rewrite.New(rewrite.Options{
		Endpoint: cfg.LLMEndpoint,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Logger:   logger,
	})

	// Dry runs keep the publisher nil so candidates stop at the publish
	// step instead of creating WordPress drafts.
	var publisher pipeline.Publisher
	if !cfg.DryRun && cfg.WordPressURL != "" {
		client, wpErr := wp.New(wp.Options{
			BaseURL:     cfg.WordPressURL,
			Username:    cfg.WordPressUsername,
			AppPassword: cfg.WordPressAppPassword,
			JWTToken:    cfg.WordPressJWTToken,
			Logger:      logger,
		})
		if wpErr != nil {
			return nil, fmt.Errorf("wordpress client: %w", wpErr)
		}
		publisher = client
	}

	var notifier notify.Notifier = notify.Disabled{}
	if cfg.EmailNotificationsEnabled {
		notifier = notify.NewEmailNotifier(notify.Options{
			Endpoint:  cfg.EmailEndpoint,
			APIKey:    cfg.EmailAPIKey,
			From:      cfg.EmailFrom,
			Recipient: cfg.EmailRecipient,
			Logger:    logger,
		})
	}

	var sink audit.Sink = audit.Discard{}
	if cfg.AuditLogPath != "" {
		fileSink, auditErr := audit.NewFileSink(cfg.AuditLogPath)
		if auditErr != nil {
			return nil, fmt.Errorf("audit sink: %w", auditErr)
		}
		sink = fileSink
	}

	processor := pipeline.NewProcessor(pipeline.ProcessorOptions{
		Extractor:       extractor,
		Deduper:         deduper,
		Rewriter:        rewriter,
		Gate:            gate,
		Publisher:       publisher,
		Snapshots:       recorder,
		CategoryMapping: categories.CategoryMapping,
		Logger:          logger,
	})

	delay := time.Duration(cfg.ArticleDelaySeconds) * time.Second

	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Fetcher:      fetcher,
		Processor:    processor,
		States:       recorder,
		Reports:      recorder,
		Audit:        sink,
		Processed:    ledger,
		ArticleDelay: delay,
		Logger:       logger,
	})

	mon := monitor.New(monitor.Options{
		Fetcher:      fetcher,
		Processor:    processor,
		States:       recorder,
		Notifier:     notifier,
		Processed:    ledger,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		FetchLimit:   cfg.MonitorFetchLimit,
		ArticleDelay: delay,
		Logger:       logger,
	})

	return &components{
		recorder:  recorder,
		ledger:    ledger,
		processor: processor,
		runner:    runner,
		monitor:   mon,
		audit:     sink,
	}, nil
}
