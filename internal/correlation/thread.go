package correlation

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// ThreadMessage is one item's entry in a thread.
type ThreadMessage struct {
	ItemID    string    `json:"item_id"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread groups items that share a platform and an identifier or people.
type Thread struct {
	ID            string          `json:"id"`
	Identifier    string          `json:"identifier,omitempty"`
	Participants  []string        `json:"participants"`
	Platform      string          `json:"platform"`
	Messages      []ThreadMessage `json:"messages"`
	CommitmentIDs []string        `json:"commitment_ids,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LastUpdated   time.Time       `json:"last_updated"`
}

type thread struct {
	Thread
	people map[string]struct{}
}

func (t *thread) addParticipants(people []string) {
	for _, p := range people {
		if _, ok := t.people[p]; ok {
			continue
		}
		t.people[p] = struct{}{}
		t.Participants = append(t.Participants, p)
	}
	sort.Strings(t.Participants)
}

func (t *thread) shares(people []string) bool {
	for _, p := range people {
		if _, ok := t.people[p]; ok {
			return true
		}
	}
	return false
}

func (t *thread) hasItem(id string) bool {
	for _, m := range t.Messages {
		if m.ItemID == id {
			return true
		}
	}
	return false
}

func (t *thread) snapshot() Thread {
	out := t.Thread
	out.Participants = append([]string(nil), t.Participants...)
	out.Messages = append([]ThreadMessage(nil), t.Messages...)
	out.CommitmentIDs = append([]string(nil), t.CommitmentIDs...)
	return out
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw|wg)\s*:\s*)+`)

// Identifier derives the thread key an item carries: the email subject
// without reply prefixes, or the page title for browser captures.
func Identifier(src activity.Source) string {
	var raw string
	switch src.Kind {
	case activity.SourceEmail:
		raw = src.Subject
	case activity.SourceBrowser:
		raw = src.Title
	default:
		return ""
	}
	return strings.ToLower(strings.TrimSpace(replyPrefix.ReplaceAllString(raw, "")))
}

// participantsOf lists the people an item involves: the source's own
// people plus any addressed email or mention entities.
func participantsOf(item ContextItem) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range item.Source.People() {
		add(p)
	}
	for k, typ := range item.Entities {
		if typ == EntityEmail || typ == EntityMention {
			add(k)
		}
	}
	sort.Strings(out)
	return out
}

func authorOf(src activity.Source) string {
	if src.Kind == activity.SourceEmail {
		return src.Sender
	}
	return ""
}
