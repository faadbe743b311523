package tagging

import (
	"regexp"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// Rule seeds Tags when any keyword appears in the lower-cased content.
type Rule struct {
	Name     string
	Keywords []string
	Tags     []activity.Tag
}

// DefaultRules are the content-pattern rules. Commitment phrases come from
// the commitment lexicon and are applied separately.
var DefaultRules = []Rule{
	{
		Name:     "urgency",
		Keywords: []string{"urgent", "asap", "immediately", "critical", "emergency", "right away", "high priority", "blocker"},
		Tags:     []activity.Tag{activity.TagUrgentAction, activity.TagImportant},
	},
	{
		Name: "deadline",
		Keywords: []string{"deadline", "due ", "due:", "due by", "by tomorrow", "by today", "by eod", "by end of",
			"by monday", "by tuesday", "by wednesday", "by thursday", "by friday", "no later than", "expires", "before the"},
		Tags: []activity.Tag{activity.TagDeadline, activity.TagReminder},
	},
	{
		Name: "action",
		Keywords: []string{"todo", "to-do", "action item", "action items", "need to", "needs to", "please send",
			"please review", "please update", "assigned to", "take care of", "next steps", "follow up", "follow-up"},
		Tags: []activity.Tag{activity.TagActionItem, activity.TagTask},
	},
	{
		Name:     "reminder",
		Keywords: []string{"remind me", "reminder", "don't forget", "dont forget", "remember to"},
		Tags:     []activity.Tag{activity.TagReminder},
	},
}

var (
	questionPattern = regexp.MustCompile(`\?|(?i)^(who|what|when|where|why|how|can|could|would|will|is|are|do|does|did|should)\b`)
	codePatterns    = []*regexp.Regexp{
		regexp.MustCompile("```"),
		regexp.MustCompile(`\bfunc\s+\w*\(`),
		regexp.MustCompile(`\bdef\s+\w+\(`),
		regexp.MustCompile(`\b(const|let|var)\s+\w+\s*=`),
		regexp.MustCompile(`=>|:=|!==|===|&&|\|\|`),
		regexp.MustCompile(`\b(import|package|class|return|public|private)\s+[\w.{]`),
		regexp.MustCompile(`[;{}]\s*$`),
		regexp.MustCompile(`(?i)\bselect\s+.+\s+from\s+\w+`),
		regexp.MustCompile(`\w+\.\w+\([^)]*\)`),
	}
)

// looksLikeCode needs two independent code signals so that prose with a
// stray brace is not tagged.
func looksLikeCode(content string) bool {
	hits := 0
	for _, p := range codePatterns {
		if p.MatchString(content) {
			hits++
			if hits >= 2 {
				return true
			}
		}
	}
	return false
}
