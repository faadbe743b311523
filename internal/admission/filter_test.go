package admission

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
)

func item(content string, src activity.Source) activity.ContentItem {
	return activity.NewContentItem(content, src, activity.PriorityNormal)
}

func TestEvaluate_QuickPass(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		src     activity.Source
		admit   bool
	}{
		{"email source always admitted", "ok", activity.EmailSource("a@b.co", ""), true},
		{"meeting source always admitted", "lol", activity.MeetingSource("Ana"), true},
		{"short ack rejected", "ok", activity.ClipboardSource(), false},
		{"short ack with punctuation rejected", "thanks!", activity.ClipboardSource(), false},
		{"short mention admitted", "ok @sam", activity.ClipboardSource(), true},
		{"short url admitted", "www.x.io", activity.ClipboardSource(), true},
		{"urgency lexicon admitted", "this is urgent", activity.ScreenCaptureSource("Notes"), true},
		{"boilerplate rejected", "Click here to unsubscribe from these emails", activity.BrowserSource("https://n.io", ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.Evaluate(ctx, item(tt.content, tt.src))
			assert.Equal(t, tt.admit, d.Admit, d.Reason)
			assert.Equal(t, TierQuick, d.Tier)
		})
	}
}

func TestEvaluate_DetailedPass(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		admit   bool
	}{
		{"pure small talk", "Hey there, how are you doing?", false},
		{"greeting plus business", "Hey, the client meeting moved", true},
		{"weather alone", "It is so sunny and humid outside", false},
		{"weather with travel", "Rainy forecast, the flight may be delayed", true},
		{"social fluff", "Jordan liked your photo and 3 others reacted to it", false},
		{"entertainment alone", "Watched the season finale on Netflix", false},
		{"entertainment with business", "Netflix is a client, prep the proposal", true},
		{"question", "What did we decide?", true},
		{"time reference", "Dentist at 3pm", true},
		{"undecided defaults to admit", "purple elephants juggle", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.Evaluate(ctx, item(tt.content, activity.ClipboardSource()))
			assert.Equal(t, tt.admit, d.Admit, d.Reason)
			assert.Equal(t, TierDetailed, d.Tier)
		})
	}
}

func TestEvaluate_AITier(t *testing.T) {
	verdict := "SKIP"
	guard := enhance.NewGuard(enhance.ServiceFunc(func(ctx context.Context, p enhance.Prompt) (enhance.Result, error) {
		assert.Equal(t, enhance.TaskAdmission, p.Task)
		return enhance.Result{Text: verdict}, nil
	}))
	f := New(DefaultConfig(), guard, nil)

	d := f.Evaluate(context.Background(), item("What did we decide?", activity.ClipboardSource()))
	assert.False(t, d.Admit)
	assert.Equal(t, TierAI, d.Tier)

	// Quick rules still win over the model.
	d = f.Evaluate(context.Background(), item("see https://x.io", activity.ClipboardSource()))
	assert.True(t, d.Admit)
	assert.Equal(t, TierQuick, d.Tier)

	// A non-categorical answer falls through to the detailed pass.
	verdict = "maybe?"
	d = f.Evaluate(context.Background(), item("Watched a movie", activity.ClipboardSource()))
	assert.Equal(t, TierDetailed, d.Tier)
}

func TestEvaluate_FailsOpen(t *testing.T) {
	guard := enhance.NewGuard(enhance.ServiceFunc(func(context.Context, enhance.Prompt) (enhance.Result, error) {
		panic("model crashed")
	}))
	f := New(DefaultConfig(), guard, nil)

	d := f.Evaluate(context.Background(), item("purple elephants juggle", activity.ClipboardSource()))
	assert.True(t, d.Admit)
	assert.Equal(t, TierFailOpen, d.Tier)
	assert.False(t, guard.Busy())
	assert.Equal(t, int64(1), f.Stats().Passed)
}

func TestStats(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)
	ctx := context.Background()

	assert.Equal(t, Stats{}, f.Stats())
	assert.False(t, f.ShouldProcess(ctx, item("ok", activity.ClipboardSource())))
	assert.True(t, f.ShouldProcess(ctx, item("ship the release tomorrow", activity.ClipboardSource())))
	assert.False(t, f.ShouldProcess(ctx, item("lol", activity.ClipboardSource())))
	assert.True(t, f.ShouldProcess(ctx, item("x", activity.EmailSource("", ""))))

	s := f.Stats()
	assert.Equal(t, int64(4), s.TotalProcessed)
	assert.Equal(t, int64(2), s.Filtered)
	assert.Equal(t, int64(2), s.Passed)
	assert.InDelta(t, 0.5, s.FilterRate, 1e-9)

	f.Reset()
	assert.Equal(t, Stats{}, f.Stats())
}

func TestShouldProcess_AddressesAndLinksAlwaysAdmitted(t *testing.T) {
	sources := []activity.Source{
		activity.ClipboardSource(),
		activity.ScreenCaptureSource("Slack"),
		activity.BrowserSource("https://example.com", ""),
		activity.ManualSource(),
	}
	// A model that would reject everything must not override the bias.
	guard := enhance.NewGuard(enhance.ServiceFunc(func(context.Context, enhance.Prompt) (enhance.Result, error) {
		return enhance.Result{Text: "SKIP"}, nil
	}))
	f := New(DefaultConfig(), guard, nil)

	rapid.Check(t, func(rt *rapid.T) {
		noise := rapid.SampledFrom([]string{"", "ok", "lol", "unsubscribe", "privacy policy", "hi", "weather"}).Draw(rt, "noise")
		var marker string
		if rapid.Bool().Draw(rt, "email") {
			marker = rapid.StringMatching(`[a-z]{1,8}@[a-z]{1,8}\.(com|io|org)`).Draw(rt, "address")
		} else {
			marker = rapid.StringMatching(`https?://[a-z]{1,8}\.(com|io|org)(/[a-z]{0,6})?`).Draw(rt, "url")
		}
		content := strings.TrimSpace(noise + " " + marker)
		src := rapid.SampledFrom(sources).Draw(rt, "source")

		if !f.ShouldProcess(context.Background(), item(content, src)) {
			rt.Fatalf("rejected %q from %s", content, src)
		}
	})
}

func TestShortAckScenario(t *testing.T) {
	f := New(DefaultConfig(), nil, nil)
	d := f.Evaluate(context.Background(), item("ok", activity.ClipboardSource()))
	require.False(t, d.Admit)
	assert.Equal(t, "short acknowledgement", d.Reason)
}
