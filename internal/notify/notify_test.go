package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/nudged/internal/scheduler"
)

var t0 = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type sinkFunc func(ctx context.Context, n Notification) error

func (f sinkFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

type collectingSink struct {
	mu  sync.Mutex
	got []Notification
}

func (c *collectingSink) Deliver(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func (c *collectingSink) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func TestNormalize(t *testing.T) {
	n := Notification{Identifier: "r1", Body: strings.Repeat("x", 150)}.Normalize()
	assert.Equal(t, MaxBodyLength, len([]rune(n.Body)))
	assert.True(t, strings.HasSuffix(n.Body, "..."))
	assert.Equal(t, SoundDefault, n.Sound)

	n = Notification{Identifier: "r1", Body: "short", Sound: SoundCritical}.Normalize()
	assert.Equal(t, "short", n.Body)
	assert.Equal(t, SoundCritical, n.Sound)
}

func TestScheduled_FiresOnceIntoEverySink(t *testing.T) {
	sched := scheduler.New(nil)
	a, b := &collectingSink{}, &collectingSink{}
	failing := sinkFunc(func(context.Context, Notification) error { return assert.AnError })
	s := NewScheduled(sched, nil, a, failing, b)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, Notification{Identifier: "r1", Title: "Follow up", Body: "Reply to Ana", FireAt: t0}))
	due, ok := s.Pending("r1")
	require.True(t, ok)
	assert.Equal(t, t0, due)

	assert.Zero(t, sched.RunDue(ctx, t0.Add(-time.Minute)))
	assert.Equal(t, 1, sched.RunDue(ctx, t0))
	assert.Zero(t, sched.RunDue(ctx, t0.Add(time.Hour)))

	require.Len(t, a.all(), 1)
	require.Len(t, b.all(), 1)
	assert.Equal(t, "Reply to Ana", a.all()[0].Body)
	_, ok = s.Pending("r1")
	assert.False(t, ok)
}

func TestScheduled_RescheduleReplacesAndCancelDrops(t *testing.T) {
	sched := scheduler.New(nil)
	sink := &collectingSink{}
	s := NewScheduled(sched, nil, sink)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, Notification{Identifier: "r1", Body: "first", FireAt: t0}))
	require.NoError(t, s.Schedule(ctx, Notification{Identifier: "r1", Body: "snoozed", FireAt: t0.Add(time.Hour)}))
	assert.Equal(t, 1, sched.Pending())

	assert.Zero(t, sched.RunDue(ctx, t0))
	assert.Equal(t, 1, sched.RunDue(ctx, t0.Add(time.Hour)))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "snoozed", sink.all()[0].Body)

	require.NoError(t, s.Schedule(ctx, Notification{Identifier: "r2", Body: "gone", FireAt: t0}))
	require.NoError(t, s.Cancel(ctx, "r2"))
	assert.Zero(t, sched.RunDue(ctx, t0.Add(2*time.Hour)))
	assert.Len(t, sink.all(), 1)

	assert.ErrorIs(t, s.Schedule(ctx, Notification{}), ErrNoIdentifier)
}

func TestWebhookSink(t *testing.T) {
	var got Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, map[string]string{"Authorization": "Bearer t"}, time.Second)
	n := Notification{Identifier: "r1", Title: "Urgent", Body: "OVERDUE: call", FireAt: t0, Sound: SoundCritical}
	require.NoError(t, sink.Deliver(context.Background(), n))
	assert.Equal(t, n, got)
	assert.Equal(t, "Bearer t", auth)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, nil, 0).Deliver(context.Background(), Notification{Identifier: "r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNATSSink(t *testing.T) {
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync("nudged.notifications")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	n := Notification{Identifier: "r1", Title: "Deadline", Body: "Ship it", FireAt: t0, Sound: SoundDefault}
	require.NoError(t, NewNATSSink(nc, "nudged.notifications").Deliver(context.Background(), n))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var got Notification
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, n, got)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, LogSink{Logger: zap.New(core)}.Deliver(context.Background(), Notification{Identifier: "r1", Title: "Follow up"}))
	entries := logs.FilterMessage("reminder notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0].ContextMap()["reminder.id"])

	assert.NoError(t, LogSink{}.Deliver(context.Background(), Notification{}))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	require.NoError(t, r.Schedule(ctx, Notification{Identifier: "r1", Body: "a"}))
	require.NoError(t, r.Schedule(ctx, Notification{Identifier: "r1", Body: "b"}))
	n, ok := r.Pending("r1")
	require.True(t, ok)
	assert.Equal(t, "b", n.Body)
	assert.Len(t, r.Scheduled(), 2)

	require.NoError(t, r.Cancel(ctx, "r1"))
	require.NoError(t, r.Cancel(ctx, "r1"))
	assert.Equal(t, []string{"r1"}, r.Cancelled())
	_, ok = r.Pending("r1")
	assert.False(t, ok)
}
