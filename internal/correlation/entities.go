package correlation

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityEmail   EntityType = "email"
	EntityMention EntityType = "mention"
	EntityURL     EntityType = "url"
	EntityName    EntityType = "name"
)

var namePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)

// notNames are capitalized words that start sentences or name calendar
// units far more often than they name people.
var notNames = map[string]bool{
	"i": true, "i'll": true, "the": true, "this": true, "that": true, "these": true,
	"those": true, "hi": true, "hello": true, "hey": true, "thanks": true, "thank": true,
	"please": true, "can": true, "could": true, "would": true, "will": true, "let": true,
	"we": true, "you": true, "it": true, "re": true, "fwd": true, "fw": true, "ok": true,
	"yes": true, "no": true, "if": true, "when": true, "what": true, "why": true, "how": true,
	"and": true, "but": true, "also": true, "just": true, "so": true, "see": true, "my": true,
	"our": true, "your": true, "today": true, "tomorrow": true, "tonight": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "january": true, "february": true, "march": true,
	"april": true, "may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
}

// ExtractEntities pulls emails, mentions, links and capitalized names out of
// content, plus the people the source itself names. Keys are lower-cased so
// matching is case-insensitive.
func ExtractEntities(content string, src activity.Source) map[string]EntityType {
	out := make(map[string]EntityType)
	for _, e := range activity.Emails(content) {
		out[strings.ToLower(e)] = EntityEmail
	}
	for _, m := range activity.Mentions(content) {
		out["@"+strings.ToLower(m)] = EntityMention
	}
	for _, u := range activity.URLs(content) {
		out[strings.ToLower(u)] = EntityURL
	}
	for _, n := range namePattern.FindAllString(content, -1) {
		first := strings.ToLower(strings.Fields(n)[0])
		if notNames[first] {
			continue
		}
		out[strings.ToLower(n)] = EntityName
	}
	for _, p := range src.People() {
		key := strings.ToLower(strings.TrimSpace(p))
		if key == "" {
			continue
		}
		if activity.HasEmail(key) {
			out[key] = EntityEmail
		} else {
			out[key] = EntityName
		}
	}
	return out
}

func sharedEntities(a, b map[string]EntityType) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// videoApps are treated as the same platform as a meeting transcript.
var videoApps = []string{"zoom", "teams", "meet", "webex", "facetime", "skype", "whereby"}

func isVideoApp(platform string) bool {
	for _, v := range videoApps {
		if strings.Contains(platform, v) {
			return true
		}
	}
	return false
}

// relatedSources reports whether two sources share a platform, counting a
// meeting and a video-call app as the same place.
func relatedSources(a, b activity.Source) bool {
	pa, pb := a.Platform(), b.Platform()
	if pa == pb {
		return true
	}
	meeting := string(activity.SourceMeeting)
	return (pa == meeting && isVideoApp(pb)) || (pb == meeting && isVideoApp(pa))
}

func significantWords(content string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range activity.Words(content) {
		if len([]rune(w)) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

// Jaccard is |a ∩ b| / |a ∪ b| over the words longer than three letters.
func Jaccard(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}
