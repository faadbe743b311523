package followup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/store"
)

var t0 = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (r *recordingPublisher) Publish(_ context.Context, m bus.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingPublisher) ofType(t bus.MessageType) []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Message
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type openSet map[string]bool

func (o openSet) IsOpen(_ context.Context, id string) bool { return o[id] }

func itemAt(content string, src activity.Source) activity.ContentItem {
	return activity.NewContentItemAt(content, src, activity.PriorityNormal, t0)
}

func TestAssess_Rules(t *testing.T) {
	tr := New(DefaultConfig(), nil, nil, nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		item  activity.ContentItem
		tags  activity.TagSet
		typ   Type
		after time.Duration
	}{
		{"email question", itemAt("Can we move the call?", activity.EmailSource("bo@x.io", "Call")), nil, TypeEmailResponse, 4 * time.Hour},
		{"email politeness", itemAt("Please review the attached deck", activity.EmailSource("bo@x.io", "")), nil, TypeEmailResponse, 4 * time.Hour},
		{"chat mention", itemAt("@me ping on the PR", activity.ScreenCaptureSource("Slack")), nil, TypeMessageResponse, 3 * time.Hour},
		{"chat question tag", itemAt("lunch later", activity.ScreenCaptureSource("WhatsApp")), activity.NewTagSet(activity.TagQuestion), TypeMessageResponse, 3 * time.Hour},
		{"browser chat", itemAt("@sam see thread", activity.BrowserSource("https://app.slack.com/client", "")), nil, TypeMessageResponse, 3 * time.Hour},
		{"meeting action item", itemAt("Ana to send notes", activity.MeetingSource("Ana")), activity.NewTagSet(activity.TagActionItem), TypeActionItemCheck, 24 * time.Hour},
		{"commitment anywhere", itemAt("I'll fix it", activity.ClipboardSource()), activity.NewTagSet(activity.TagCommitment), TypeCommitmentVerification, 6 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tr.Assess(ctx, tt.item, tt.tags)
			require.True(t, a.NeedsFollowup)
			assert.Equal(t, tt.typ, a.Type)
			assert.Equal(t, t0.Add(tt.after), a.Deadline)
			assert.NotEmpty(t, a.Description)
			assert.False(t, a.ByModel)
		})
	}

	a := tr.Assess(ctx, itemAt("FYI the build is green", activity.EmailSource("ci@x.io", "")), nil)
	assert.False(t, a.NeedsFollowup)
	a = tr.Assess(ctx, itemAt("random note", activity.ScreenCaptureSource("Notes")), activity.NewTagSet(activity.TagQuestion))
	assert.False(t, a.NeedsFollowup)
}

func TestAssess_ModelOnlyWhenRulesSilent(t *testing.T) {
	calls := 0
	guard := enhance.NewGuard(enhance.ServiceFunc(func(context.Context, enhance.Prompt) (enhance.Result, error) {
		calls++
		return enhance.Result{Text: `{"needs_followup":true,"type":"message_response","description":"Answer Kim","hours":1,"confidence":0.8}`}, nil
	}))
	tr := New(DefaultConfig(), guard, nil, nil, nil, nil)

	a := tr.Assess(context.Background(), itemAt("I'll fix it", activity.ClipboardSource()), activity.NewTagSet(activity.TagCommitment))
	assert.Equal(t, TypeCommitmentVerification, a.Type)
	assert.Zero(t, calls)

	a = tr.Assess(context.Background(), itemAt("kim asked about the budget", activity.ClipboardSource()), nil)
	require.True(t, a.NeedsFollowup)
	assert.True(t, a.ByModel)
	assert.Equal(t, "Answer Kim", a.Description)
	assert.Equal(t, t0.Add(time.Hour), a.Deadline)
	assert.Equal(t, 1, calls)
}

func TestProcess_PublishesAndRegisters(t *testing.T) {
	pub := &recordingPublisher{}
	sched := scheduler.New(nil)
	kv := store.NewMemory()
	tr := New(DefaultConfig(), nil, pub, sched, kv, nil)

	p, err := tr.Process(context.Background(), itemAt("Could you send the numbers?", activity.EmailSource("cfo@x.io", "Numbers")), nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	msgs := pub.ofType(bus.TypeActionRequired)
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload.(bus.ActionPayload)
	assert.Equal(t, p.ReminderID, payload.ReminderID)
	assert.Equal(t, string(TypeEmailResponse), payload.FollowupType)
	assert.Equal(t, t0.Add(4*time.Hour), payload.Deadline)
	assert.Equal(t, []string{"cfo@x.io"}, payload.Participants)

	assert.Len(t, tr.Pending(), 1)
	due, ok := sched.Due(schedulerPrefix + p.ReminderID)
	require.True(t, ok)
	assert.Equal(t, p.ExpectedResponse, due)

	var saved []Pending
	found, err := store.LoadJSON(context.Background(), kv, store.KeyFollowups, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.ReminderID, saved[0].ReminderID)

	none, err := tr.Process(context.Background(), itemAt("nothing owed", activity.ClipboardSource()), nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSweep_EscalatesOpenRemindersOnce(t *testing.T) {
	pub := &recordingPublisher{}
	sched := scheduler.New(nil)
	tr := New(DefaultConfig(), nil, pub, sched, store.NewMemory(), nil)

	open, err := tr.Process(context.Background(), itemAt("I'll fix it", activity.ClipboardSource()), activity.NewTagSet(activity.TagCommitment))
	require.NoError(t, err)
	closed, err := tr.Process(context.Background(), itemAt("I'll call", activity.ClipboardSource()), activity.NewTagSet(activity.TagCommitment))
	require.NoError(t, err)
	tr.SetStatusLookup(openSet{open.ReminderID: true})

	// Not yet due.
	assert.Zero(t, tr.Sweep(context.Background(), t0.Add(time.Hour)))
	assert.Len(t, tr.Pending(), 2)

	assert.Equal(t, 1, tr.Sweep(context.Background(), t0.Add(7*time.Hour)))
	assert.Empty(t, tr.Pending())
	assert.Zero(t, sched.Pending())

	urgent := pub.ofType(bus.TypeUrgentNotification)
	require.Len(t, urgent, 1)
	payload := urgent[0].Payload.(bus.ActionPayload)
	assert.Equal(t, open.ReminderID, payload.EscalatedFrom)
	assert.Equal(t, activity.PriorityUrgent, urgent[0].Priority)
	assert.NotEqual(t, closed.ReminderID, payload.EscalatedFrom)

	// A second sweep finds nothing left to escalate.
	assert.Zero(t, tr.Sweep(context.Background(), t0.Add(8*time.Hour)))
	assert.Len(t, pub.ofType(bus.TypeUrgentNotification), 1)
}

func TestSchedulerDrivesExpiry(t *testing.T) {
	pub := &recordingPublisher{}
	sched := scheduler.New(nil)
	tr := New(DefaultConfig(), nil, pub, sched, nil, nil)

	_, err := tr.Process(context.Background(), itemAt("@kim can you check?", activity.ScreenCaptureSource("Slack")), nil)
	require.NoError(t, err)

	assert.Zero(t, sched.RunDue(context.Background(), t0.Add(2*time.Hour)))
	assert.Equal(t, 1, sched.RunDue(context.Background(), t0.Add(3*time.Hour)))
	assert.Len(t, pub.ofType(bus.TypeUrgentNotification), 1)
	assert.Empty(t, tr.Pending())
}

func TestLoad_RearmsSavedEntries(t *testing.T) {
	kv := store.NewMemory()
	saved := []Pending{{ReminderID: "r1", Type: TypeEmailResponse, Description: "Reply", ExpectedResponse: t0.Add(time.Hour)}}
	require.NoError(t, store.SaveJSON(context.Background(), kv, store.KeyFollowups, saved))

	sched := scheduler.New(nil)
	tr := New(DefaultConfig(), nil, &recordingPublisher{}, sched, kv, nil)
	require.NoError(t, tr.Load(context.Background()))
	assert.Len(t, tr.Pending(), 1)
	_, ok := sched.Due(schedulerPrefix + "r1")
	assert.True(t, ok)
}
