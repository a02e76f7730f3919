package events

import (
	"regexp"
	"strings"
)

const redactedMarker = "[REDACTED]"

var namedPatterns = map[string]string{
	"email": `(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`,
	"cc16":  `\b(?:\d[ -]?){16}\b`,
	"jwt":   `eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9._-]+\.[A-Za-z0-9._-]+`,
}

// Redactor masks sensitive substrings in typed text before it becomes part of
// a step description.
//
// The zero value is a no-op redactor.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor. redactEmails enables the built-in email
// expression; each custom entry is either a named pattern ("email", "cc16",
// "jwt") or a raw regular expression.
func NewRedactor(redactEmails bool, custom []string) (Redactor, error) {
	exprs := make([]string, 0, len(custom)+1)
	if redactEmails {
		exprs = append(exprs, namedPatterns["email"])
	}
	for _, expr := range custom {
		trimmed := strings.TrimSpace(expr)
		if trimmed == "" {
			continue
		}
		if mapped, ok := namedPatterns[strings.ToLower(trimmed)]; ok {
			trimmed = mapped
		}
		exprs = append(exprs, trimmed)
	}

	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		rx, err := regexp.Compile(expr)
		if err != nil {
			return Redactor{}, err
		}
		patterns = append(patterns, rx)
	}
	return Redactor{patterns: patterns}, nil
}

// Enabled reports whether any pattern is configured.
func (r Redactor) Enabled() bool {
	return len(r.patterns) > 0
}

// Redact masks every match of every pattern.
func (r Redactor) Redact(input string) string {
	redacted := input
	for _, rx := range r.patterns {
		redacted = rx.ReplaceAllString(redacted, redactedMarker)
	}
	return redacted
}
