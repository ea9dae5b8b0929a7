package dedupe

import (
	"context"
	"errors"
	"fmt"

	"rassegna.press/rassegna/internal/db"
	"rassegna.press/rassegna/internal/globaltime"
)

// PostgresStore stores fingerprints in rassegna.article_fingerprints.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Lookup(ctx context.Context, fingerprintID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fingerprint_id, canonical_url, normalized_title, title_hash, body_hash, published_id
		FROM rassegna.article_fingerprints
		WHERE fingerprint_id = $1`, fingerprintID)
	return scanRecord(row)
}

func (s *PostgresStore) FindByCanonicalURL(ctx context.Context, canonicalURL string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fingerprint_id, canonical_url, normalized_title, title_hash, body_hash, published_id
		FROM rassegna.article_fingerprints
		WHERE canonical_url = $1
		ORDER BY created_at DESC
		LIMIT 1`, canonicalURL)
	return scanRecord(row)
}

func (s *PostgresStore) FindByTitleHash(ctx context.Context, titleHash string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fingerprint_id, canonical_url, normalized_title, title_hash, body_hash, published_id
		FROM rassegna.article_fingerprints
		WHERE title_hash = $1
		ORDER BY created_at DESC`, titleHash)
	if err != nil {
		return nil, fmt.Errorf("query by title hash: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.FingerprintID, &rec.CanonicalURL, &rec.NormalizedTitle,
			&rec.TitleHash, &rec.BodyHash, &rec.PublishedID); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rassegna.article_fingerprints
			(fingerprint_id, canonical_url, normalized_title, title_hash, body_hash, published_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fingerprint_id) DO UPDATE SET
			canonical_url = EXCLUDED.canonical_url,
			normalized_title = EXCLUDED.normalized_title,
			title_hash = EXCLUDED.title_hash,
			body_hash = COALESCE(EXCLUDED.body_hash, rassegna.article_fingerprints.body_hash),
			published_id = COALESCE(EXCLUDED.published_id, rassegna.article_fingerprints.published_id)`,
		rec.FingerprintID, rec.CanonicalURL, rec.NormalizedTitle, rec.TitleHash,
		rec.BodyHash, rec.PublishedID, globaltime.Now())
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

func scanRecord(row *db.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.FingerprintID, &rec.CanonicalURL, &rec.NormalizedTitle,
		&rec.TitleHash, &rec.BodyHash, &rec.PublishedID)
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fingerprint: %w", err)
	}
	return &rec, nil
}
