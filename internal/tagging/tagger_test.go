package tagging

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
)

func tagsOf(tags ...activity.Tag) activity.TagSet { return activity.NewTagSet(tags...) }

func TestTag_Rules(t *testing.T) {
	tagger := New(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		content  string
		src      activity.Source
		priority activity.Priority
		want     []activity.Tag
	}{
		{
			name:    "email source seeds communication",
			content: "Attached.",
			src:     activity.EmailSource("a@b.co", ""),
			want:    []activity.Tag{activity.TagEmailThread, activity.TagCommunication},
		},
		{
			name:    "meeting commitment",
			content: "I'll draft the plan",
			src:     activity.MeetingSource("Ana"),
			want:    []activity.Tag{activity.TagMeetingNotes, activity.TagCommunication, activity.TagCommitment, activity.TagFollowupRequired},
		},
		{
			name:    "question",
			content: "Can you check the numbers",
			src:     activity.ClipboardSource(),
			want:    []activity.Tag{activity.TagQuestion, activity.TagFollowupRequired},
		},
		{
			name:    "urgent deadline",
			content: "URGENT: invoice due by Friday",
			src:     activity.ClipboardSource(),
			want:    []activity.Tag{activity.TagUrgentAction, activity.TagImportant, activity.TagDeadline, activity.TagReminder},
		},
		{
			name:    "action item",
			content: "Action items: update the wiki",
			src:     activity.ScreenCaptureSource("Notion"),
			want:    []activity.Tag{activity.TagActionItem, activity.TagTask},
		},
		{
			name:    "code",
			content: "func main() {\n\tx := 1\n}",
			src:     activity.ClipboardSource(),
			want:    []activity.Tag{activity.TagCodeSnippet},
		},
		{
			name:    "contact and link",
			content: "Reach me at sam@corp.io or https://corp.io/sam",
			src:     activity.ClipboardSource(),
			want:    []activity.Tag{activity.TagContactInfo, activity.TagURLLink},
		},
		{
			name:     "urgent priority",
			content:  "server room",
			src:      activity.ManualSource(),
			priority: activity.PriorityUrgent,
			want:     []activity.Tag{activity.TagUrgentAction},
		},
		{
			name:     "high priority",
			content:  "server room",
			src:      activity.ManualSource(),
			priority: activity.PriorityHigh,
			want:     []activity.Tag{activity.TagImportant},
		},
		{
			name:    "nothing matched defaults to task",
			content: "purple elephants",
			src:     activity.ClipboardSource(),
			want:    []activity.Tag{activity.TagTask},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prio := tt.priority
			if prio == 0 {
				prio = activity.PriorityNormal
			}
			got := tagger.Tag(ctx, activity.NewContentItem(tt.content, tt.src, prio))
			assert.Equal(t, tagsOf(tt.want...).Sorted(), got.Sorted())
		})
	}
}

func TestTag_MergesConfidentModelTags(t *testing.T) {
	confidence := 0.9
	guard := enhance.NewGuard(enhance.ServiceFunc(func(context.Context, enhance.Prompt) (enhance.Result, error) {
		return enhance.Result{Text: `{"tags":["Deadline","not_a_tag","reminder"],"rationale":"r","confidence":` + strconv.FormatFloat(confidence, 'f', -1, 64) + `}`}, nil
	}))
	tagger := New(guard, nil)
	item := activity.NewContentItem("purple elephants", activity.ClipboardSource(), activity.PriorityNormal)

	got := tagger.Tag(context.Background(), item)
	assert.Equal(t, tagsOf(activity.TagDeadline, activity.TagReminder).Sorted(), got.Sorted())

	confidence = 0.2
	got = tagger.Tag(context.Background(), item)
	assert.Equal(t, tagsOf(activity.TagTask).Sorted(), got.Sorted())
}

func TestTag_ModelFailureUsesRules(t *testing.T) {
	guard := enhance.NewGuard(enhance.ServiceFunc(func(context.Context, enhance.Prompt) (enhance.Result, error) {
		return enhance.Result{}, errors.New("timeout")
	}))
	tagger := New(guard, nil)
	got := tagger.Tag(context.Background(), activity.NewContentItem("Can we meet?", activity.ClipboardSource(), activity.PriorityNormal))
	assert.True(t, got.Has(activity.TagQuestion))
}

var genSource = rapid.SampledFrom([]activity.Source{
	activity.ClipboardSource(),
	activity.EmailSource("x@y.io", "Hi"),
	activity.MeetingSource("Ana", "Bo"),
	activity.ScreenCaptureSource("Slack"),
	activity.BrowserSource("https://docs.io/a", ""),
	activity.ManualSource(),
})

var genContent = rapid.OneOf(
	rapid.String(),
	rapid.SampledFrom([]string{
		"I'll send it tomorrow", "urgent!!", "what time?", "func f() { return 1; }",
		"call 555-123-4567", "see https://x.io", "todo: ship", "", "ok",
	}),
)

func TestTag_IdempotentAndNeverEmpty(t *testing.T) {
	tagger := New(nil, nil)
	rapid.Check(t, func(rt *rapid.T) {
		item := activity.NewContentItem(
			genContent.Draw(rt, "content"),
			genSource.Draw(rt, "source"),
			activity.Priority(rapid.IntRange(0, 3).Draw(rt, "priority")),
		)
		first := tagger.Tag(context.Background(), item)
		second := tagger.Tag(context.Background(), item)
		if len(first) == 0 {
			rt.Fatalf("empty tag set for %q", item.Content)
		}
		if !first.Equal(second) {
			rt.Fatalf("tags differ: %v vs %v", first.Sorted(), second.Sorted())
		}
		for tag := range first {
			if !tag.Valid() {
				rt.Fatalf("tag %q outside vocabulary", tag)
			}
		}
	})
}
