// Package semantic provides the similarity oracle used by the deduplicator
// and the quality gate. The oracle is selected at construction time: an
// HTTP embedding service when an endpoint is configured, otherwise a stub
// that reports itself unavailable.
package semantic

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable is returned by an oracle that cannot serve similarity
// queries. Callers degrade (skip the semantic check) rather than fail.
var ErrUnavailable = errors.New("similarity oracle unavailable")

// Oracle scores the semantic similarity of two texts in [0, 1].
type Oracle interface {
	Similarity(ctx context.Context, left, right string) (float64, error)
}

// Unavailable is the no-op oracle used when no embedding service is configured.
type Unavailable struct{}

func (Unavailable) Similarity(context.Context, string, string) (float64, error) {
	return 0, ErrUnavailable
}

func cosine(left, right []float64) (float64, error) {
	if len(left) == 0 || len(left) != len(right) {
		return 0, errors.New("embedding dimension mismatch")
	}

	var dot, leftNorm, rightNorm float64
	for i := range left {
		dot += left[i] * right[i]
		leftNorm += left[i] * left[i]
		rightNorm += right[i] * right[i]
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0, nil
	}

	score := dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, errors.New("cosine produced a non-finite value")
	}
	return clamp01(score), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
