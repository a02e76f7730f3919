package ocr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLabelRunes caps recognised labels used in descriptions.
const MaxLabelRunes = 60

const meaningfulSingles = "+-x×?!#@&%$*/<>=✓"

// Clean collapses whitespace, strips control characters and trims stray
// punctuation OCR tends to pick up from borders.
func Clean(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	cleaned := strings.Join(fields, " ")
	cleaned = strings.Trim(cleaned, "|_~`'\"[]{}")
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxLabelRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:MaxLabelRunes])) + "..."
	}
	return cleaned
}

// Meaningful rejects empty strings, lone characters that carry no meaning and
// common OCR gibberish: mostly symbols, long consonant runs or repeated
// characters.
func Meaningful(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return false
	}
	if n == 1 {
		r, _ := utf8.DecodeRuneInString(text)
		return unicode.IsDigit(r) || unicode.IsUpper(r) || strings.ContainsRune(meaningfulSingles, r)
	}

	alnum := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if float64(alnum)/float64(n) < 0.5 {
		return false
	}

	for _, word := range strings.Fields(text) {
		if consonantRun(word) > 5 || repeatRun(word) >= 4 {
			return false
		}
	}
	return true
}

func consonantRun(word string) int {
	longest, current := 0, 0
	for _, r := range strings.ToLower(word) {
		if r >= 'a' && r <= 'z' && !strings.ContainsRune("aeiouy", r) {
			current++
			if current > longest {
				longest = current
			}
			continue
		}
		current = 0
	}
	return longest
}

func repeatRun(word string) int {
	longest, current := 0, 0
	var prev rune
	for i, r := range word {
		if i > 0 && r == prev {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
		prev = r
	}
	return longest
}
