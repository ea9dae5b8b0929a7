package dedupe

import (
	"context"
	"errors"
	"fmt"

	"rassegna.press/rassegna/internal/db"
	"rassegna.press/rassegna/internal/globaltime"
)

// SeenLedger records every feed URL the fetcher has observed, so articles are
// handed to the pipeline at most once even across restarts.
type SeenLedger struct {
	pool *db.Pool
}

func NewSeenLedger(pool *db.Pool) *SeenLedger {
	return &SeenLedger{pool: pool}
}

// MarkSeen records a URL sighting. The first sighting timestamp is preserved
// on repeat sightings.
func (l *SeenLedger) MarkSeen(ctx context.Context, rawURL string) error {
	now := globaltime.Now()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO rassegna.seen_urls (url_hash, url, first_seen_at, last_seen_at, processed)
		VALUES ($1, $2, $3, $3, FALSE)
		ON CONFLICT (url_hash) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at`,
		hashHex(rawURL), rawURL, now)
	if err != nil {
		return fmt.Errorf("mark url seen: %w", err)
	}
	return nil
}

// IsProcessed reports whether a URL has already been handed to the pipeline.
// A URL that was never seen is not processed.
func (l *SeenLedger) IsProcessed(ctx context.Context, rawURL string) (bool, error) {
	var processed bool
	err := l.pool.QueryRow(ctx, `
		SELECT processed FROM rassegna.seen_urls WHERE url_hash = $1`,
		hashHex(rawURL)).Scan(&processed)
	if errors.Is(err, db.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup seen url: %w", err)
	}
	return processed, nil
}

// MarkProcessed flags a URL as handed to the pipeline.
func (l *SeenLedger) MarkProcessed(ctx context.Context, rawURL string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE rassegna.seen_urls SET processed = TRUE, last_seen_at = $2
		WHERE url_hash = $1`,
		hashHex(rawURL), globaltime.Now())
	if err != nil {
		return fmt.Errorf("mark url processed: %w", err)
	}
	return nil
}
