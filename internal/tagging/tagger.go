// Package tagging assigns semantic tags to admitted content items.
package tagging

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/commitment"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
)

// DefaultMinConfidence is the model confidence below which its tags are
// ignored.
const DefaultMinConfidence = 0.6

const classificationPrompt = `You classify a captured snippet of a user's activity.
Allowed tags: commitment, followup_required, urgent_action, reminder, action_item, meeting_notes, email_thread, code_snippet, url_link, contact_info, deadline, question, important, communication, task.
Respond ONLY with a JSON object: {"tags": [string], "rationale": string, "confidence": 0.0-1.0}`

type classification struct {
	Tags       []string `json:"tags"`
	Rationale  string   `json:"rationale"`
	Confidence float64  `json:"confidence"`
}

// Tagger classifies items. It is stateless and safe for concurrent use.
type Tagger struct {
	rules         []Rule
	guard         *enhance.Guard
	minConfidence float64
	logger        *zap.Logger
}

// Option configures a Tagger.
type Option func(*Tagger)

// WithRules replaces the content-pattern rules.
func WithRules(rules []Rule) Option {
	return func(t *Tagger) { t.rules = rules }
}

// WithMinConfidence sets the model confidence threshold.
func WithMinConfidence(c float64) Option {
	return func(t *Tagger) {
		if c > 0 {
			t.minConfidence = c
		}
	}
}

// New creates a tagger. guard may be nil.
func New(guard *enhance.Guard, logger *zap.Logger, opts ...Option) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tagger{
		rules:         DefaultRules,
		guard:         guard,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tag returns the tag set for item. The result is never empty.
func (t *Tagger) Tag(ctx context.Context, item activity.ContentItem) activity.TagSet {
	tags := t.RuleTags(item)

	if t.guard.Available() {
		var c classification
		err := t.guard.JSON(ctx, enhance.Prompt{
			Task:    enhance.TaskClassification,
			System:  classificationPrompt,
			Content: item.Content,
		}, &c)
		switch {
		case err != nil:
			t.logger.Warn("classification fell back to rules",
				zap.String("item.id", item.ID),
				zap.Error(err),
			)
		case c.Confidence >= t.minConfidence:
			for _, raw := range c.Tags {
				tags.Add(activity.Tag(strings.ToLower(strings.TrimSpace(raw))))
			}
		default:
			t.logger.Debug("classification below confidence threshold",
				zap.String("item.id", item.ID),
				zap.Float64("confidence", c.Confidence),
			)
		}
	}

	if len(tags) == 0 {
		tags.Add(activity.TagTask)
	}
	return tags
}

// RuleTags is the deterministic rule classification, without the
// at-least-one-tag default.
func (t *Tagger) RuleTags(item activity.ContentItem) activity.TagSet {
	tags := activity.NewTagSet()
	lower := item.Lower()

	switch item.Source.Kind {
	case activity.SourceEmail:
		tags.Add(activity.TagEmailThread, activity.TagCommunication)
	case activity.SourceMeeting:
		tags.Add(activity.TagMeetingNotes, activity.TagCommunication)
	}

	if commitment.HasPhrase(item.Content) {
		tags.Add(activity.TagCommitment, activity.TagFollowupRequired)
	}
	for _, rule := range t.rules {
		if activity.ContainsAny(lower, rule.Keywords) {
			tags.Add(rule.Tags...)
		}
	}
	for _, s := range activity.SentencesWithPunctuation(item.Content) {
		if questionPattern.MatchString(s) {
			tags.Add(activity.TagQuestion, activity.TagFollowupRequired)
			break
		}
	}
	if looksLikeCode(item.Content) {
		tags.Add(activity.TagCodeSnippet)
	}
	if activity.HasEmail(item.Content) || activity.HasPhone(item.Content) {
		tags.Add(activity.TagContactInfo)
	}
	if activity.HasURL(item.Content) {
		tags.Add(activity.TagURLLink)
	}

	switch item.Priority {
	case activity.PriorityUrgent:
		tags.Add(activity.TagUrgentAction)
	case activity.PriorityHigh:
		tags.Add(activity.TagImportant)
	}
	return tags
}
