package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength bounds the question size in runes.
const MaxQuestionLength = 2000

// Injection patterns: SQL/NoSQL/template fragments that should never appear in a question.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`),
}

// ValidateQuestion checks a free-text question at the pipeline entry point.
func ValidateQuestion(question string) error {
	text := strings.TrimSpace(question)
	if text == "" {
		return NewValidationError("question", question, ErrEmptyQuestion)
	}
	if utf8.RuneCountInString(text) > MaxQuestionLength {
		return NewValidationError("question", string([]rune(text)[:64])+"...", ErrQuestionTooLong)
	}
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("question", text, ErrQueryInjection)
		}
	}
	return nil
}
