package commitment

import (
	"regexp"
	"strings"
	"time"
)

// Phrases is the first-person commitment lexicon.
var Phrases = []string{
	"i will", "i'll", "i promise", "let me check", "let me get back", "let me follow up",
	"let me look into", "let me find out", "i'm going to", "i am going to", "i shall",
	"i can send", "i'll get back", "will do", "i commit to", "i'll make sure",
	"i need to", "i have to", "i must", "leave it with me", "i'll handle", "i'll take care",
	"i'll send", "i'll have", "count on me",
}

var (
	phrasePattern    = buildPhrasePattern(Phrases)
	recipientPattern = regexp.MustCompile(`\bto\s+(@[\w.\-]+|[A-Z][a-zA-Z'\-]+)`)
	mentionPattern   = regexp.MustCompile(`(?:^|\s)@([\w.\-]+)`)
	inPattern        = regexp.MustCompile(`\bin\s+(\d{1,3})\s+(minute|min|hour|hr|day|week)s?\b`)
)

func buildPhrasePattern(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// normalize lower-cases s and folds typographic apostrophes.
func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(s))
}

// HasPhrase reports whether text contains a commitment phrase.
func HasPhrase(text string) bool {
	return phrasePattern.MatchString(normalize(text))
}

// notRecipients are capitalized words that commonly follow "to" without
// naming a person.
var notRecipients = map[string]bool{
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true,
	"Saturday": true, "Sunday": true, "I": true, "The": true, "EOD": true, "ASAP": true,
	"Do": true, "Be": true, "Get": true, "Make": true, "Send": true, "Finish": true,
}

func recipientOf(sentence string) string {
	for _, m := range recipientPattern.FindAllStringSubmatch(sentence, -1) {
		name := strings.TrimPrefix(m[1], "@")
		if !notRecipients[m[1]] && name != "" {
			return name
		}
	}
	if m := mentionPattern.FindStringSubmatch(sentence); m != nil {
		return strings.TrimRight(m[1], ".")
	}
	return ""
}

// DeadlineRule maps a temporal cue to a deadline.
type DeadlineRule struct {
	Keywords []string
	Resolve  func(now time.Time) time.Time
	Urgency  int
}

func after(d time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// EndOfWeek returns the last second of the Sunday ending now's week.
func EndOfWeek(now time.Time) time.Time {
	days := (7 - int(now.Weekday())) % 7
	y, m, d := now.AddDate(0, 0, days).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, now.Location())
}

// DeadlineRules is the keyword table, checked in order.
var DeadlineRules = []DeadlineRule{
	{Keywords: []string{"asap", "right away", "immediately", "urgent"}, Resolve: after(4 * time.Hour), Urgency: 4},
	{Keywords: []string{"today", "tonight", "eod", "end of day", "this afternoon", "this evening"}, Resolve: after(4 * time.Hour), Urgency: 3},
	{Keywords: []string{"tomorrow"}, Resolve: after(24 * time.Hour), Urgency: 3},
	{Keywords: []string{"next week"}, Resolve: after(7 * 24 * time.Hour), Urgency: 2},
	{Keywords: []string{"this week", "end of week", "eow", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}, Resolve: EndOfWeek, Urgency: 2},
}

// DefaultDeadline applies when no temporal cue is found.
const DefaultDeadline = 3 * time.Hour

// EstimateDeadline resolves the first temporal cue in text relative to now.
// found is false when the default offset was used.
func EstimateDeadline(text string, now time.Time) (deadline time.Time, urgency int, found bool) {
	lower := normalize(text)
	if m := inPattern.FindStringSubmatch(lower); m != nil {
		n := 0
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		unit := map[string]time.Duration{
			"minute": time.Minute, "min": time.Minute, "hour": time.Hour, "hr": time.Hour,
			"day": 24 * time.Hour, "week": 7 * 24 * time.Hour,
		}[m[2]]
		return now.Add(time.Duration(n) * unit), 3, true
	}
	for _, rule := range DeadlineRules {
		for _, kw := range rule.Keywords {
			if containsWord(lower, kw) {
				return rule.Resolve(now), rule.Urgency, true
			}
		}
	}
	return now.Add(DefaultDeadline), 2, false
}

func containsWord(lower, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(lower[start-1])) && (end == len(lower) || !isWordByte(lower[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
