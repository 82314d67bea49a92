package results

import (
	"regexp"
	"strings"
)

type Rejection string

const (
	RejectEmpty       Rejection = "empty"
	RejectErrorMarker Rejection = "error_marker"
	RejectIdentical   Rejection = "identical_to_source"
	RejectConfidence  Rejection = "low_confidence"
	RejectErrorField  Rejection = "error_field"
)

const MinConfidence = 0.1

// Bracketed failure tokens some models emit instead of a translation.
var errorMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\[.*error.*\]`),
	regexp.MustCompile(`(?i)^\[.*failed.*\]`),
	regexp.MustCompile(`(?i)^\[.*no.*result.*\]`),
	regexp.MustCompile(`(?i)^\[.*fallback.*\]`),
	regexp.MustCompile(`(?i)^\[.*ml.*error.*\]`),
	regexp.MustCompile(`(?i)^\[.*échec.*\]`),
	regexp.MustCompile(`(?i)^\[.*modèles.*non.*\]`),
	regexp.MustCompile(`(?i)^\[.*nllb.*no.*result.*\]`),
	regexp.MustCompile(`(?i)^\[.*nllb.*fallback.*\]`),
	regexp.MustCompile(`(?i)^\[.*erreur.*\]`),
	regexp.MustCompile(`(?i)^\[.*timeout.*\]`),
	regexp.MustCompile(`(?i)^\[.*meta.*tensor.*\]`),
}

type Candidate struct {
	TranslatedText string
	Confidence     float64
	Error          string
}

// Validate reports whether a translation may be published. A rejected
// result is never forwarded.
func Validate(c Candidate, sourceText string) (Rejection, bool) {
	if c.Error != "" {
		return RejectErrorField, false
	}

	text := strings.TrimSpace(c.TranslatedText)
	if text == "" {
		return RejectEmpty, false
	}

	for _, pattern := range errorMarkerPatterns {
		if pattern.MatchString(text) {
			return RejectErrorMarker, false
		}
	}

	if strings.EqualFold(text, strings.TrimSpace(sourceText)) {
		return RejectIdentical, false
	}

	if c.Confidence < MinConfidence {
		return RejectConfidence, false
	}

	return "", true
}
