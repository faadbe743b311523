package activity

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	mentionPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9._%+\-])@([A-Za-z0-9_][A-Za-z0-9_.\-]*)`)
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)
	phonePattern   = regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n+`)
)

// Emails returns every email address in text, in order of appearance.
func Emails(text string) []string {
	return emailPattern.FindAllString(text, -1)
}

// Mentions returns @handles (without the @) that are not part of an email
// address.
func Mentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimRight(m[1], "."))
	}
	return out
}

// URLs returns every http(s) or www. link in text.
func URLs(text string) []string {
	raw := urlPattern.FindAllString(text, -1)
	for i, u := range raw {
		raw[i] = strings.TrimRight(u, ".,;:!?)")
	}
	return raw
}

// HasURL reports whether text contains a link.
func HasURL(text string) bool {
	return urlPattern.MatchString(text)
}

// HasEmail reports whether text contains an email address.
func HasEmail(text string) bool {
	return emailPattern.MatchString(text)
}

// HasPhone reports whether text contains something shaped like a phone number.
func HasPhone(text string) bool {
	return phonePattern.MatchString(text)
}

// Sentences splits text on terminal punctuation followed by whitespace and
// on newlines, dropping empty fragments. Dots inside addresses and links do
// not end a sentence.
func Sentences(text string) []string {
	var out []string
	for _, s := range SentencesWithPunctuation(text) {
		if s = strings.TrimSpace(strings.TrimRight(s, ".!?")); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SentencesWithPunctuation is Sentences but keeps the terminating mark so
// descriptions read naturally.
func SentencesWithPunctuation(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); strings.Trim(s, ".!? ") != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Words lower-cases text and returns its alphanumeric words.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// ContainsAny reports whether lower contains any of the phrases. Callers
// pass already lower-cased text.
func ContainsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ContainsWord reports whether lower contains any of words as a whole word.
func ContainsWord(lower string, words []string) bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	for _, w := range Words(lower) {
		if set[w] {
			return true
		}
	}
	return false
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
