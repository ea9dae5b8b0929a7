package quality

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/semantic"
)

type fixedOracle struct {
	score float64
}

func (o fixedOracle) Similarity(context.Context, string, string) (float64, error) {
	return o.score, nil
}

func goodArticle() Article {
	sentence := "Il consiglio comunale ha approvato ieri sera il nuovo piano urbanistico dopo un dibattito durato diverse ore. "
	return Article{
		Headline: "Approvato il nuovo piano urbanistico comunale",
		Lead:     "Via libera del consiglio dopo un lungo dibattito in aula, con il voto favorevole della maggioranza.",
		Body:     strings.Repeat(sentence, 20),
	}
}

func newGate(oracle semantic.Oracle) *Gate {
	return New(oracle, 200, 2000, 0.85, zerolog.Nop())
}

func TestEvaluatePasses(t *testing.T) {
	t.Parallel()

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), goodArticle(), "testo originale dell'articolo di partenza")
	if !verdict.Passed {
		t.Fatalf("expected pass, got issues: %v", verdict.Issues)
	}
	if verdict.RiskLevel != RiskLow {
		t.Fatalf("expected low risk, got %s", verdict.RiskLevel)
	}
	if verdict.NeedsReview {
		t.Fatal("clean article must not need review")
	}
}

func TestEvaluateShortBody(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body = strings.Repeat("parola brevissima davvero ", 25)

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	if verdict.Passed {
		t.Fatal("expected a short article to fail")
	}

	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "corto") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a short-article issue, got %v", verdict.Issues)
	}
	if !verdict.NeedsReview {
		t.Fatal("sanity failures must flag the article for review")
	}
}

func TestEvaluateDangerousPattern(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body += " <script>alert('x')</script>"

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	if verdict.Passed {
		t.Fatal("expected dangerous content to fail")
	}
	// Markup is an editorial sanity problem, not a risk signal.
	if verdict.RiskLevel != RiskLow {
		t.Fatalf("expected low risk, got %s", verdict.RiskLevel)
	}
	if !verdict.NeedsReview {
		t.Fatal("sanity failures must flag the article for review")
	}

	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "pattern pericoloso") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a dangerous-pattern issue, got %v", verdict.Issues)
	}
}

func TestEvaluateDangerousPatternOutsideBodyIgnored(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Headline = "Titolo con <script> dentro"

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "pattern pericoloso") {
			t.Fatalf("markup scan must cover the body only, got %v", verdict.Issues)
		}
	}
}

func TestEvaluateShortBodyReportsWordCountToo(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body = "troppo breve"

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	var sawEmpty, sawWordCount bool
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "Corpo articolo vuoto") {
			sawEmpty = true
		}
		if strings.Contains(issue, "troppo corto:") {
			sawWordCount = true
		}
	}
	if !sawEmpty || !sawWordCount {
		t.Fatalf("expected both the empty-body and word-count issues, got %v", verdict.Issues)
	}
}

func TestEvaluateSensitiveData(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body += " Il pagamento con carta 1234 5678 9012 3456 risulta contestato."

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	if verdict.RiskLevel != RiskHigh {
		t.Fatalf("expected high risk for card number, got %s", verdict.RiskLevel)
	}
	if verdict.Passed {
		t.Fatal("expected sensitive data to fail the gate")
	}
}

func TestEvaluateMediumRiskKeyword(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body += " La polemica si trascina ormai da settimane tra le forze politiche locali e nazionali."

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	if verdict.RiskLevel != RiskMedium {
		t.Fatalf("expected medium risk, got %s", verdict.RiskLevel)
	}
	if !verdict.NeedsReview {
		t.Fatal("medium risk must flag the article for review")
	}
}

func TestEvaluateTooSimilar(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	verdict := newGate(fixedOracle{score: 0.95}).Evaluate(context.Background(), article, article.Body)
	if verdict.Passed {
		t.Fatal("expected near-identical text to fail")
	}

	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "troppo simile") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a similarity issue, got %v", verdict.Issues)
	}
	if !verdict.NeedsReview {
		t.Fatal("similar text must flag the article for review")
	}
}

func TestEvaluateSkipsSimilarityWithoutOracle(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, article.Body)
	if !verdict.Passed {
		t.Fatalf("similarity check must be skipped without an oracle, got issues: %v", verdict.Issues)
	}
	if verdict.SimilarityScore != 0 {
		t.Fatalf("expected zero similarity score, got %f", verdict.SimilarityScore)
	}
}

func TestEvaluateExcessiveRepetition(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Body = strings.Repeat("ripetizione continua della stessa identica ripetizione ", 50)

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	found := false
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "Ripetizioni") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a repetition issue, got %v", verdict.Issues)
	}
}

func TestEvaluateShortHeadlineAndLead(t *testing.T) {
	t.Parallel()

	article := goodArticle()
	article.Headline = "Breve"
	article.Lead = "Corto"

	verdict := newGate(semantic.Unavailable{}).Evaluate(context.Background(), article, "originale")
	var headline, lead bool
	for _, issue := range verdict.Issues {
		if strings.Contains(issue, "Headline") {
			headline = true
		}
		if strings.Contains(issue, "Lead") {
			lead = true
		}
	}
	if !headline || !lead {
		t.Fatalf("expected headline and lead issues, got %v", verdict.Issues)
	}
}
