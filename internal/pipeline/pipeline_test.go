package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/admission"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/commitment"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/followup"
	"github.com/fyrsmithlabs/nudged/internal/notify"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/secrets"
	"github.com/fyrsmithlabs/nudged/internal/store"
	"github.com/fyrsmithlabs/nudged/internal/tagging"
	"github.com/fyrsmithlabs/nudged/internal/telemetry"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

type harness struct {
	p     *Pipeline
	bus   *bus.Bus
	sched *scheduler.Scheduler
	rem     *reminder.Manager
	tracker *followup.Tracker
	notes   *notify.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	now := clockAt(t0)

	b := bus.New(logger)
	t.Cleanup(b.Close)
	sched := scheduler.New(logger, scheduler.WithClock(now))
	kv := store.NewMemory()
	notes := notify.NewRecorder()

	corr, err := correlation.New(correlation.DefaultConfig(), b, logger, correlation.WithClock(now))
	require.NoError(t, err)

	rem := reminder.New(reminder.DefaultConfig(), sched, notes, kv, logger,
		reminder.WithClock(now),
		reminder.WithHistory(corr),
	)
	t.Cleanup(rem.Close)
	require.NoError(t, rem.Subscribe(b))

	tracker := followup.New(followup.DefaultConfig(), nil, b, sched, kv, logger)
	tracker.SetStatusLookup(rem)

	scrubber, err := secrets.New(secrets.Config{Enabled: true})
	require.NoError(t, err)

	p, err := New(Deps{
		Filter:     admission.New(admission.DefaultConfig(), nil, logger),
		Tagger:     tagging.New(nil, logger),
		Detector:   commitment.New(nil, b, logger, commitment.WithClock(now)),
		Tracker:    tracker,
		Correlator: corr,
		Reminders:  rem,
		Bus:        b,
		Scrubber:   scrubber,
	}, logger, WithClock(now))
	require.NoError(t, err)

	return &harness{p: p, bus: b, sched: sched, rem: rem, tracker: tracker, notes: notes}
}

func (h *harness) waitFor(t *testing.T, match func(reminder.Reminder) bool) reminder.Reminder {
	t.Helper()
	var found reminder.Reminder
	require.Eventually(t, func() bool {
		list, err := h.rem.List(context.Background())
		if err != nil {
			return false
		}
		for _, r := range list {
			if match(r) {
				found = r
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	return found
}

func TestNew_RequiresEveryStage(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)

	h := newHarness(t)
	deps := h.p.deps
	deps.Correlator = nil
	_, err = New(deps, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Contains(t, err.Error(), "correlator")
}

func TestIngest_ShortAcknowledgementIsFiltered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.p.Ingest(ctx, "ok", activity.ClipboardSource(), activity.PriorityNormal)
	require.NoError(t, err)
	assert.False(t, out.Decision.Admit)
	assert.Equal(t, admission.TierQuick, out.Decision.Tier)
	assert.Empty(t, out.Tags)
	assert.Nil(t, out.Commitment)
	assert.Nil(t, out.Followup)
	assert.Nil(t, out.Correlation)

	stats, err := h.p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalItemsProcessed)
	assert.Equal(t, int64(1), stats.ItemsFiltered)
	assert.Equal(t, int64(0), stats.ItemsPassed)
	assert.InDelta(t, 1.0, stats.FilterRate, 1e-9)

	list, err := h.rem.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProcess_EmitsSpansAndMetrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry(t)
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.p.Ingest(ctx, "ok", activity.ClipboardSource(), activity.PriorityNormal)
	require.NoError(t, err)
	_, err = h.p.Ingest(ctx, "Can you review the deploy checklist before Friday?", activity.EmailSource("bob@x.com", "deploy"), activity.PriorityNormal)
	require.NoError(t, err)

	names := tel.SpanNames()
	assert.Equal(t, 2, countOf(names, "pipeline.process"))

	rm := tel.Collect(t)
	m, ok := telemetry.Metric(rm, "nudged.pipeline.items_total")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	_, ok = telemetry.Metric(rm, "nudged.pipeline.stage_duration")
	assert.True(t, ok)
}

func countOf(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}

func TestIngest_RejectsInvalidItems(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.Ingest(context.Background(), "   ", activity.ClipboardSource(), activity.PriorityNormal)
	assert.ErrorIs(t, err, activity.ErrEmptyContent)

	_, err = h.p.Ingest(context.Background(), "look", activity.BrowserSource("", ""), activity.PriorityNormal)
	assert.Error(t, err)
}

func TestIngest_CommitmentBecomesReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.p.Ingest(ctx, "I'll send you the report by tomorrow", activity.EmailSource("alice@x.com", "Q3"), activity.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, out.Decision.Admit)
	assert.True(t, out.Tags.Has(activity.TagCommitment))
	require.NotNil(t, out.Commitment)
	require.NotNil(t, out.Commitment.Deadline)
	require.NotNil(t, out.Correlation)
	assert.NotEmpty(t, out.Correlation.ThreadID)

	r := h.waitFor(t, func(r reminder.Reminder) bool { return r.CommitmentID == out.Commitment.ID })
	assert.Equal(t, reminder.TypeCommitmentFollowUp, r.Type)
	assert.GreaterOrEqual(t, r.Priority, activity.PriorityHigh)
	assert.Equal(t, *out.Commitment.Deadline, r.ScheduledTime)
	assert.Contains(t, r.Description, "I'll send you the report by tomorrow")

	thread, ok := h.p.Correlator().Thread(out.Correlation.ThreadID)
	require.True(t, ok)
	assert.Contains(t, thread.CommitmentIDs, out.Commitment.ID)

	receipt := out.Receipt()
	assert.True(t, receipt.Admitted)
	assert.Equal(t, out.Commitment.ID, receipt.CommitmentID)
	assert.Equal(t, out.Item.ID, receipt.ItemID)
}

// settle publishes a marker on the urgent topic and waits for it, so every
// urgent notification queued before it has been handled. The marker is
// dismissed again.
func (h *harness) settle(t *testing.T, marker string) {
	t.Helper()
	require.NoError(t, h.bus.Publish(context.Background(), bus.Message{
		Type:    bus.TypeUrgentNotification,
		From:    "test",
		Payload: bus.TextPayload{Text: marker},
	}))
	r := h.waitFor(t, func(r reminder.Reminder) bool { return r.Description == marker })
	_, err := h.rem.Dismiss(context.Background(), r.ID)
	require.NoError(t, err)
}

func TestIngest_CommitmentEscalatesOnlyAfterDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.p.Ingest(ctx, "I'll send you the report by tomorrow", activity.EmailSource("alice@x.com", "Q3"), activity.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, out.Commitment)
	require.NotNil(t, out.Followup)
	assert.Equal(t, followup.TypeCommitmentVerification, out.Followup.Type)

	pending := h.tracker.Pending()
	require.Len(t, pending, 1)
	trackID := pending[0].ReminderID
	assert.Equal(t, t0.Add(6*time.Hour), pending[0].ExpectedResponse)

	// Wait until the verification followup and the commitment share one reminder.
	var commitmentReminder reminder.Reminder
	require.Eventually(t, func() bool {
		list, err := h.rem.List(ctx)
		if err != nil || len(list) != 1 || list[0].CommitmentID != out.Commitment.ID {
			return false
		}
		viaTrack, err := h.rem.Get(ctx, trackID)
		if err != nil || viaTrack.ID != list[0].ID {
			return false
		}
		commitmentReminder = list[0]
		return true
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, t0.Add(24*time.Hour), commitmentReminder.ScheduledTime)

	assert.Equal(t, 1, h.sched.RunDue(ctx, t0.Add(7*time.Hour)))
	h.settle(t, "after followup window")

	r, err := h.rem.Get(ctx, commitmentReminder.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusActive, r.Status)
	list, err := h.rem.List(ctx)
	require.NoError(t, err)
	for _, other := range list {
		assert.NotEqual(t, commitmentReminder.ID, other.Metadata.EscalatedFrom)
	}
	assert.Empty(t, h.tracker.Pending())

	assert.Equal(t, 1, h.sched.RunDue(ctx, t0.Add(25*time.Hour)))
	r, err = h.rem.Get(ctx, commitmentReminder.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusEscalated, r.Status)

	assert.Zero(t, h.sched.RunDue(ctx, t0.Add(48*time.Hour)))
	list, err = h.rem.List(ctx)
	require.NoError(t, err)
	var escalations []reminder.Reminder
	for _, other := range list {
		if other.Metadata.EscalatedFrom == commitmentReminder.ID {
			escalations = append(escalations, other)
		}
	}
	require.Len(t, escalations, 1)
	assert.Equal(t, "OVERDUE: "+commitmentReminder.Description, escalations[0].Description)
	assert.Equal(t, t0.Add(25*time.Hour), escalations[0].ScheduledTime)
}

func TestIngest_UrgentItemRaisesUrgentReminder(t *testing.T) {
	h := newHarness(t)

	out, err := h.p.Ingest(context.Background(), "URGENT: prod is down, need to restart the db ASAP", activity.ClipboardSource(), activity.PriorityNormal)
	require.NoError(t, err)
	assert.True(t, out.Urgent)

	r := h.waitFor(t, func(r reminder.Reminder) bool {
		return r.Type == reminder.TypeUrgent && r.SourceItemID == out.Item.ID
	})
	assert.Equal(t, activity.PriorityUrgent, r.Priority)
	assert.Equal(t, reminder.StatusActive, r.Status)
	assert.Equal(t, "urgent action item", r.Metadata.Reason)
	assert.Equal(t, t0, r.ScheduledTime)
}

func TestIngest_UrgentPriorityAlone(t *testing.T) {
	h := newHarness(t)
	out, err := h.p.Ingest(context.Background(), "Call the bank about the wire transfer", activity.ManualSource(), activity.PriorityUrgent)
	require.NoError(t, err)
	assert.True(t, out.Urgent)
	r := h.waitFor(t, func(r reminder.Reminder) bool { return r.SourceItemID == out.Item.ID && r.Type == reminder.TypeUrgent })
	assert.Equal(t, "urgent priority", r.Metadata.Reason)
}

func TestAgents_ReportEveryStage(t *testing.T) {
	h := newHarness(t)
	_, err := h.p.Ingest(context.Background(), "ok", activity.ClipboardSource(), activity.PriorityNormal)
	require.NoError(t, err)
	_, err = h.p.Ingest(context.Background(), "Can you review the budget doc by Friday?", activity.EmailSource("bo@corp.io", "Budget"), activity.PriorityNormal)
	require.NoError(t, err)

	agents := h.p.Agents()
	require.Len(t, agents, 5)
	byName := make(map[string]AgentStatus)
	for i, a := range agents {
		if i > 0 {
			assert.Less(t, agents[i-1].Name, a.Name)
		}
		assert.False(t, a.Active)
		byName[a.Name] = a
	}
	assert.Equal(t, int64(2), byName[StageAdmission].Processed)
	assert.Equal(t, int64(1), byName[StageTagging].Processed)
	assert.Equal(t, int64(1), byName[StageCorrelation].Processed)
	assert.False(t, byName[StageAdmission].LastActive.IsZero())
}

func TestSweep_EscalatesOverdueReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rem.Create(ctx, reminder.Draft{
		ID:            "r1",
		Type:          reminder.TypeFollowUp,
		Description:   "Send the contract",
		Priority:      activity.PriorityNormal,
		ScheduledTime: t0.Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	_, overdue, err := h.p.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, overdue)

	_, overdue, err = h.p.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, overdue)

	stats, err := h.p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UrgentTasks)
}

func TestScheduleSweeps_Reschedules(t *testing.T) {
	h := newHarness(t)
	sched := scheduler.New(nil, scheduler.WithClock(clockAt(t0)))

	h.p.ScheduleSweeps(sched, time.Hour)
	due, ok := sched.Due(sweepKey)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), due)

	assert.Equal(t, 0, sched.RunDue(context.Background(), t0.Add(30*time.Minute)))
	assert.Equal(t, 1, sched.RunDue(context.Background(), t0.Add(time.Hour)))
	due, ok = sched.Due(sweepKey)
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Hour), due)
}

func TestIngestRequest_Item(t *testing.T) {
	item, err := IngestRequest{Content: "ship it", Source: activity.ManualSource()}.Item(t0)
	require.NoError(t, err)
	assert.Equal(t, activity.PriorityNormal, item.Priority)
	assert.Equal(t, t0, item.Timestamp)

	item, err = IngestRequest{Content: "ship it", Source: activity.ManualSource(), Priority: "critical"}.Item(t0)
	require.NoError(t, err)
	assert.Equal(t, activity.PriorityUrgent, item.Priority)

	_, err = IngestRequest{Content: "ship it", Source: activity.ManualSource(), Priority: "whenever"}.Item(t0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = IngestRequest{Content: "", Source: activity.ManualSource()}.Item(t0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestSubscribe_AnswersRequests(t *testing.T) {
	h := newHarness(t)
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := h.p.Subscribe(nc, "nudged.ingest", 5*time.Second)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	data, err := json.Marshal(IngestRequest{
		Content: "Could you send me the slides before the review?",
		Source:  activity.EmailSource("priya@corp.io", "Review"),
	})
	require.NoError(t, err)
	reply, err := nc.Request("nudged.ingest", data, 5*time.Second)
	require.NoError(t, err)

	var receipt Receipt
	require.NoError(t, json.Unmarshal(reply.Data, &receipt))
	assert.Empty(t, receipt.Error)
	assert.True(t, receipt.Admitted)
	assert.NotEmpty(t, receipt.ItemID)
	assert.NotEmpty(t, receipt.FollowupID)

	reply, err = nc.Request("nudged.ingest", []byte("{not json"), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reply.Data, &receipt))
	assert.Contains(t, receipt.Error, ErrInvalidRequest.Error())
}

func TestProcess_RedactsCredentials(t *testing.T) {
	h := newHarness(t)
	out, err := h.p.Ingest(context.Background(),
		"I'll send you the staging password: hunter2hunter by tomorrow",
		activity.EmailSource("carol@x.com", "staging"), activity.PriorityNormal)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Redacted)
	assert.Equal(t, 1, out.Receipt().Redacted)
	assert.NotContains(t, out.Item.Content, "hunter2hunter")
	assert.Contains(t, out.Item.Content, "[REDACTED:generic-password]")
	if out.Commitment != nil {
		assert.NotContains(t, out.Commitment.Description, "hunter2hunter")
	}
}
