// Package quality screens rewritten articles before publication. The gate
// runs three independent checks on every article: editorial sanity, content
// risk and similarity to the source text. All three always run, so a verdict
// carries the complete list of problems found.
package quality

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/semantic"
)

// Risk levels, ordered low to high.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	minHeadlineChars = 10
	minLeadChars     = 20
	minBodyChars     = 100

	// Texts are truncated before the similarity comparison.
	similarityTextLimit = 2000

	// A word longer than this counts toward the repetition guard.
	repetitionWordLength = 4
	// Share of total tokens above which a repeated word is flagged.
	repetitionRatio = 0.10
)

var highRiskKeywords = []string{
	"diffamazione",
	"calunnia",
	"hate speech",
	"incitamento",
	"dati sensibili",
	"codice fiscale",
	"numero carta",
	"password",
}

var mediumRiskKeywords = []string{
	"gossip",
	"scandalo",
	"polemica",
	"controversia",
}

var dangerousPatterns = []string{
	"<script",
	"<iframe",
	"javascript:",
	"onclick=",
	"onerror=",
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{16}\b`),
	regexp.MustCompile(`\b[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\b`),
	regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\b`),
}

// Article is the rewritten content under review.
type Article struct {
	Headline string
	Lead     string
	Body     string
}

// Verdict is the outcome of a gate evaluation.
type Verdict struct {
	Passed          bool     `json:"passed"`
	RiskLevel       string   `json:"risk_level"`
	Issues          []string `json:"issues"`
	SimilarityScore float64  `json:"similarity_score"`
	NeedsReview     bool     `json:"needs_review"`
}

// Gate evaluates rewritten articles.
type Gate struct {
	oracle              semantic.Oracle
	minWords            int
	maxWords            int
	similarityThreshold float64
	logger              zerolog.Logger
}

func New(oracle semantic.Oracle, minWords, maxWords int, similarityThreshold float64, logger zerolog.Logger) *Gate {
	if oracle == nil {
		oracle = semantic.Unavailable{}
	}
	return &Gate{
		oracle:              oracle,
		minWords:            minWords,
		maxWords:            maxWords,
		similarityThreshold: similarityThreshold,
		logger:              logger.With().Str("component", "quality").Logger(),
	}
}

// Evaluate runs every check against the article and returns the combined
// verdict. An unavailable similarity oracle skips the similarity check; the
// gate itself never fails.
func (g *Gate) Evaluate(ctx context.Context, article Article, originalText string) Verdict {
	verdict := Verdict{RiskLevel: RiskLow}

	sanityIssues := g.checkSanity(article)
	verdict.Issues = append(verdict.Issues, sanityIssues...)

	riskIssues, riskLevel := g.checkRisk(article)
	verdict.Issues = append(verdict.Issues, riskIssues...)
	verdict.RiskLevel = riskLevel

	similarityIssue, score := g.checkSimilarity(ctx, article.Body, originalText)
	verdict.SimilarityScore = score
	tooSimilar := similarityIssue != ""
	if tooSimilar {
		verdict.Issues = append(verdict.Issues, similarityIssue)
	}

	verdict.Passed = len(verdict.Issues) == 0 && verdict.RiskLevel != RiskHigh
	verdict.NeedsReview = verdict.RiskLevel != RiskLow || tooSimilar || len(sanityIssues) > 0

	return verdict
}

func (g *Gate) checkSanity(article Article) []string {
	var issues []string

	if len(strings.TrimSpace(article.Headline)) < minHeadlineChars {
		issues = append(issues, "Headline vuota o troppo corta")
	}
	if len(strings.TrimSpace(article.Lead)) < minLeadChars {
		issues = append(issues, "Lead vuoto o troppo corto")
	}

	body := strings.TrimSpace(article.Body)
	if len(body) < minBodyChars {
		issues = append(issues, "Corpo articolo vuoto o troppo corto")
	}

	words := strings.Fields(body)
	if len(words) < g.minWords {
		issues = append(issues, fmt.Sprintf("Articolo troppo corto: %d parole (min: %d)", len(words), g.minWords))
	}
	if len(words) > g.maxWords {
		issues = append(issues, fmt.Sprintf("Articolo troppo lungo: %d parole (max: %d)", len(words), g.maxWords))
	}

	if hasExcessiveRepetition(words) {
		issues = append(issues, "Ripetizioni eccessive nel contenuto")
	}

	loweredBody := strings.ToLower(body)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(loweredBody, pattern) {
			issues = append(issues, fmt.Sprintf("Contenuto contiene pattern pericoloso: %s", pattern))
		}
	}

	return issues
}

func hasExcessiveRepetition(words []string) bool {
	if len(words) == 0 {
		return false
	}
	counts := make(map[string]int)
	for _, word := range words {
		lowered := strings.ToLower(word)
		if len(lowered) > repetitionWordLength {
			counts[lowered]++
		}
	}
	limit := float64(len(words)) * repetitionRatio
	for _, count := range counts {
		if float64(count) > limit {
			return true
		}
	}
	return false
}

func (g *Gate) checkRisk(article Article) ([]string, string) {
	var issues []string
	level := RiskLow

	combined := article.Headline + " " + article.Lead + " " + article.Body
	lowered := strings.ToLower(combined)

	for _, keyword := range highRiskKeywords {
		if strings.Contains(lowered, keyword) {
			issues = append(issues, fmt.Sprintf("Contenuto ad alto rischio: keyword '%s' trovata", keyword))
			level = RiskHigh
		}
	}

	for _, keyword := range mediumRiskKeywords {
		if strings.Contains(lowered, keyword) {
			issues = append(issues, fmt.Sprintf("Contenuto a medio rischio: keyword '%s' trovata", keyword))
			if level == RiskLow {
				level = RiskMedium
			}
		}
	}

	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(combined) {
			issues = append(issues, fmt.Sprintf("Dati sensibili rilevati: pattern %s", pattern.String()))
			level = RiskHigh
		}
	}

	return issues, level
}

func (g *Gate) checkSimilarity(ctx context.Context, rewritten, original string) (string, float64) {
	if strings.TrimSpace(rewritten) == "" || strings.TrimSpace(original) == "" {
		return "", 0
	}

	score, err := g.oracle.Similarity(ctx,
		truncate(rewritten, similarityTextLimit),
		truncate(original, similarityTextLimit))
	if err != nil {
		if !errors.Is(err, semantic.ErrUnavailable) {
			g.logger.Warn().Err(err).Msg("similarity oracle failed, skipping similarity check")
		}
		return "", 0
	}

	if score >= g.similarityThreshold {
		return fmt.Sprintf("Testo troppo simile all'originale (similarity: %.2f)", score), score
	}
	return "", score
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
