// Package langdetect identifies the language of extracted article text. The
// detector is restricted to the languages that actually show up in the
// configured Italian press sources, which keeps model loading cheap and
// avoids misclassifying short Italian fragments as rarer languages.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter language code of text, or the empty
// string when there is not enough signal to decide.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < 6 {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(
				lingua.Italian,
				lingua.English,
				lingua.French,
				lingua.German,
				lingua.Spanish,
			).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
