// Package dedupe decides whether an incoming article has already been
// processed. The decision combines exact fingerprint matching, canonical URL
// matching and, when a similarity oracle is configured, a semantic comparison
// of normalized titles.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/semantic"
)

// Duplicate reasons, in detection order.
const (
	ReasonExactMatch         = "exact_match"
	ReasonSameCanonicalURL   = "same_canonical_url"
	ReasonSemanticTitleMatch = "semantic_title_match"
)

// Titles are truncated before they are sent to the similarity oracle.
const similarityTitleLimit = 1000

var titlePunctuationReplacer = strings.NewReplacer(
	".", " ", ",", " ", ";", " ", ":", " ",
	"!", " ", "?", " ", "-", " ", "_", " ",
)

// Record is a stored article fingerprint.
type Record struct {
	FingerprintID   string
	CanonicalURL    string
	NormalizedTitle string
	TitleHash       string
	BodyHash        *string
	PublishedID     *int64
}

// FingerprintStore persists article fingerprints.
type FingerprintStore interface {
	// Lookup returns the record with the given fingerprint id, or nil when
	// no such record exists.
	Lookup(ctx context.Context, fingerprintID string) (*Record, error)
	// FindByCanonicalURL returns the record stored for a canonical URL, or
	// nil when none exists.
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*Record, error)
	// FindByTitleHash returns every record sharing a normalized-title hash.
	FindByTitleHash(ctx context.Context, titleHash string) ([]Record, error)
	// Upsert stores a record, updating any existing row with the same
	// fingerprint id.
	Upsert(ctx context.Context, rec Record) error
}

// Decision is the outcome of a duplicate check.
type Decision struct {
	Duplicate            bool    `json:"duplicate"`
	Reason               string  `json:"reason,omitempty"`
	MatchedFingerprintID string  `json:"matched_fingerprint_id,omitempty"`
	Similarity           float64 `json:"similarity,omitempty"`
}

// Deduplicator checks and registers article fingerprints.
type Deduplicator struct {
	store     FingerprintStore
	oracle    semantic.Oracle
	threshold float64
	logger    zerolog.Logger
}

func New(store FingerprintStore, oracle semantic.Oracle, threshold float64, logger zerolog.Logger) *Deduplicator {
	if oracle == nil {
		oracle = semantic.Unavailable{}
	}
	return &Deduplicator{
		store:     store,
		oracle:    oracle,
		threshold: threshold,
		logger:    logger.With().Str("component", "dedupe").Logger(),
	}
}

// Fingerprint derives the stable identifier for a canonical URL and title.
func Fingerprint(canonicalURL, title string) string {
	return hashHex(canonicalURL + "|" + NormalizeTitle(title))
}

// NormalizeTitle lowercases a title, replaces common punctuation with spaces
// and collapses runs of whitespace. Normalization is deterministic so the
// derived fingerprint is stable across runs.
func NormalizeTitle(title string) string {
	lowered := strings.ToLower(title)
	spaced := titlePunctuationReplacer.Replace(lowered)
	return strings.Join(strings.Fields(spaced), " ")
}

// CheckDuplicate reports whether the article identified by canonicalURL and
// title has been seen before. Checks run in a fixed order: exact fingerprint
// match, canonical URL match, then semantic title comparison. An unavailable
// similarity oracle skips the semantic step instead of failing the check.
func (d *Deduplicator) CheckDuplicate(ctx context.Context, canonicalURL, title string) (Decision, error) {
	fingerprintID := Fingerprint(canonicalURL, title)

	existing, err := d.store.Lookup(ctx, fingerprintID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup fingerprint: %w", err)
	}
	if existing != nil {
		return Decision{Duplicate: true, Reason: ReasonExactMatch, MatchedFingerprintID: existing.FingerprintID, Similarity: 1}, nil
	}

	byURL, err := d.store.FindByCanonicalURL(ctx, canonicalURL)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup canonical url: %w", err)
	}
	if byURL != nil {
		return Decision{Duplicate: true, Reason: ReasonSameCanonicalURL, MatchedFingerprintID: byURL.FingerprintID, Similarity: 1}, nil
	}

	return d.checkSemantic(ctx, title)
}

// checkSemantic compares the normalized title against stored records that
// share its title hash. A hash match alone never flags a duplicate; the
// similarity oracle has to confirm it.
func (d *Deduplicator) checkSemantic(ctx context.Context, title string) (Decision, error) {
	normalized := NormalizeTitle(title)
	if normalized == "" {
		return Decision{}, nil
	}

	candidates, err := d.store.FindByTitleHash(ctx, hashHex(normalized))
	if err != nil {
		return Decision{}, fmt.Errorf("load candidate titles: %w", err)
	}

	var best float64
	var bestID string
	for _, candidate := range candidates {
		score, err := d.oracle.Similarity(ctx,
			truncate(normalized, similarityTitleLimit),
			truncate(candidate.NormalizedTitle, similarityTitleLimit))
		if err != nil {
			if errors.Is(err, semantic.ErrUnavailable) {
				return Decision{}, nil
			}
			d.logger.Warn().Err(err).Msg("similarity oracle failed, skipping semantic check")
			return Decision{}, nil
		}
		if score > best {
			best = score
			bestID = candidate.FingerprintID
		}
	}

	if len(candidates) > 0 && best >= d.threshold {
		return Decision{
			Duplicate:            true,
			Reason:               ReasonSemanticTitleMatch,
			MatchedFingerprintID: bestID,
			Similarity:           best,
		}, nil
	}
	return Decision{Similarity: best}, nil
}

// Register stores the fingerprint for a processed article. Registering the
// same article twice updates the existing record in place.
func (d *Deduplicator) Register(ctx context.Context, canonicalURL, title, body string, publishedID *int64) (string, error) {
	normalized := NormalizeTitle(title)
	rec := Record{
		FingerprintID:   Fingerprint(canonicalURL, title),
		CanonicalURL:    canonicalURL,
		NormalizedTitle: normalized,
		TitleHash:       hashHex(normalized),
		PublishedID:     publishedID,
	}
	if strings.TrimSpace(body) != "" {
		bodyHash := hashHex(body)
		rec.BodyHash = &bodyHash
	}

	if err := d.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("register fingerprint: %w", err)
	}
	d.logger.Debug().
		Str("fingerprint_id", rec.FingerprintID).
		Str("canonical_url", canonicalURL).
		Msg("fingerprint registered")
	return rec.FingerprintID, nil
}

func hashHex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
