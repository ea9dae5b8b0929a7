package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"rassegna.press/rassegna/internal/cli"
	"rassegna.press/rassegna/internal/config"
	"rassegna.press/rassegna/internal/db"
	"rassegna.press/rassegna/internal/dedupe"
	"rassegna.press/rassegna/internal/logging"
	"rassegna.press/rassegna/internal/semantic"
)

// runRegister stores a fingerprint for an article by hand. Useful for
// seeding the dedupe store with articles published outside the pipeline.
func runRegister(args []string) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	rawURL := fs.String("url", "", "Canonical URL of the article (required)")
	title := fs.String("title", "", "Article title (required)")
	publishedID := fs.Int64("published-id", 0, "WordPress post ID, if already published")
	timeout := fs.Duration("timeout", 10*time.Second, "Database operation timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *rawURL == "" || *title == "" {
		fmt.Fprintln(os.Stderr, "register requires --url and --title")
		fs.Usage()
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Database connection failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	deduper := dedupe.New(dedupe.NewPostgresStore(pool), semantic.Unavailable{}, cfg.SimilarityThreshold, logger)

	decision, err := deduper.CheckDuplicate(ctx, *rawURL, *title)
	if err != nil {
		logger.Error().Err(err).Msg("duplicate check failed")
		fmt.Fprintf(os.Stderr, "Duplicate check failed: %v\n", err)
		return 1
	}
	if decision.Duplicate {
		logger.Warn().
			Str("reason", string(decision.Reason)).
			Str("matched_fingerprint_id", decision.MatchedFingerprintID).
			Msg("article already registered, updating record")
	}

	var postID *int64
	if *publishedID > 0 {
		postID = publishedID
	}

	fingerprintID, err := deduper.Register(ctx, *rawURL, *title, "", postID)
	if err != nil {
		logger.Error().Err(err).Msg("registration failed")
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("fingerprint_id", fingerprintID).
		Str("canonical_url", *rawURL).
		Msg("article registered")
	fmt.Printf("registered: %s\n", fingerprintID)
	return 0
}
