package app

import (
	"strings"
	"unicode"
)

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "yo": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"thanks": true, "thank you": true, "bye": true, "goodbye": true,
	"salam": true, "سلام": true, "درود": true, "مرسی": true, "ممنون": true, "مرحبا": true,
}

// IsGreeting reports whether text is only a greeting or pleasantry.
func IsGreeting(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) })
	s = strings.Join(strings.Fields(s), " ")
	if greetings[s] {
		return true
	}
	for g := range greetings {
		if strings.HasPrefix(s, g+" ") && greetings[strings.TrimPrefix(s, g+" ")] {
			return true
		}
	}
	return false
}

// StripControl removes non-printable characters. Newlines, tabs and the
// zero-width joiners used in Persian script are kept.
func StripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\u200c' || r == '\u200d' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar || !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

const (
	LangPersian = "Persian"
	LangEnglish = "English"
)

// sampleSize follows the length tiers used for language sampling.
func sampleSize(n int) int {
	switch {
	case n < 500:
		return n
	case n < 2000:
		return n * 80 / 100
	case n < 4000:
		return n * 75 / 100
	case n < 6000:
		return n * 70 / 100
	case n < 8000:
		return n * 65 / 100
	case n < 10000:
		return n * 60 / 100
	case n < 20000:
		return n / 2
	default:
		return 10000
	}
}

// DetectLanguage compares Arabic-script and Latin letters over an evenly
// strided sample. It returns "" when neither dominates.
func DetectLanguage(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return ""
	}
	k := sampleSize(n)
	persian, english := 1, 1
	for i := 0; i < k; i++ {
		r := runes[i*n/k]
		switch {
		case unicode.Is(unicode.Arabic, r):
			persian++
		case unicode.Is(unicode.Latin, r) && unicode.IsLetter(r):
			english++
		}
	}
	ratio := float64(persian) / float64(english)
	switch {
	case ratio >= 2:
		return LangPersian
	case ratio <= 0.33:
		return LangEnglish
	default:
		return ""
	}
}
