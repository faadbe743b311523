package followup

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// Type classifies what kind of response is owed.
type Type string

const (
	TypeEmailResponse          Type = "email_response"
	TypeMessageResponse        Type = "message_response"
	TypeActionItemCheck        Type = "action_item_check"
	TypeCommitmentVerification Type = "commitment_verification"
)

// Valid reports whether t is a known followup type.
func (t Type) Valid() bool {
	_, ok := DefaultWindows[t]
	return ok
}

// DefaultWindows is how long after the item each followup type falls due.
var DefaultWindows = map[Type]time.Duration{
	TypeEmailResponse:          4 * time.Hour,
	TypeMessageResponse:        3 * time.Hour,
	TypeActionItemCheck:        24 * time.Hour,
	TypeCommitmentVerification: 6 * time.Hour,
}

// ChatApps are the applications whose captures count as chat messages.
var ChatApps = []string{
	"slack", "teams", "discord", "messages", "imessage", "whatsapp", "telegram",
	"signal", "messenger", "mattermost", "google chat", "chat.google.com", "zulip",
}

var politenessLexicon = []string{
	"please", "could you", "can you", "would you", "let me know", "kindly",
	"appreciate", "thanks in advance", "get back to me", "when you get a chance",
	"at your earliest", "looking forward to", "your thoughts",
}

func isChat(src activity.Source) bool {
	var name string
	switch src.Kind {
	case activity.SourceScreenCapture:
		name = strings.ToLower(src.App)
	case activity.SourceBrowser:
		name = src.Platform()
	default:
		return false
	}
	for _, app := range ChatApps {
		if strings.Contains(name, app) {
			return true
		}
	}
	return false
}

// match applies the source-conditioned rules in order. ok is false when no
// rule fires.
func match(item activity.ContentItem, tags activity.TagSet) (Type, string, bool) {
	lower := item.Lower()
	switch {
	case item.Source.Kind == activity.SourceEmail &&
		(strings.Contains(lower, "?") || activity.ContainsAny(lower, politenessLexicon)):
		return TypeEmailResponse, emailDescription(item), true
	case isChat(item.Source) && (len(activity.Mentions(item.Content)) > 0 || tags.Has(activity.TagQuestion)):
		return TypeMessageResponse, "Reply on " + item.Source.Platform() + ": " + activity.Truncate(firstLine(item.Content), 80), true
	case item.Source.Kind == activity.SourceMeeting && tags.Has(activity.TagActionItem):
		return TypeActionItemCheck, "Check meeting action items: " + activity.Truncate(firstLine(item.Content), 80), true
	case tags.Has(activity.TagCommitment):
		return TypeCommitmentVerification, "Verify you followed through: " + activity.Truncate(firstLine(item.Content), 80), true
	}
	return "", "", false
}

func emailDescription(item activity.ContentItem) string {
	who := item.Source.Sender
	if who == "" {
		who = "email"
	}
	about := item.Source.Subject
	if about == "" {
		about = firstLine(item.Content)
	}
	return "Reply to " + who + ": " + activity.Truncate(about, 80)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
