package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

func commitmentMsg(id string) Message {
	return Message{
		Type: TypeCommitmentDetected,
		From: "commitment_detector",
		Payload: CommitmentPayload{Commitment: activity.CommitmentInfo{
			ID:          id,
			Description: "I'll send the deck",
		}},
		Priority: activity.PriorityHigh,
	}
}

// collector gathers delivered messages for assertions.
type collector struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 1024)} }

func (c *collector) handle(_ context.Context, m Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) []Message {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestPublish_DeliversToEverySubscriberInOrder(t *testing.T) {
	b := New(nil)
	defer b.Close()

	first, second := newCollector(), newCollector()
	require.NoError(t, b.Subscribe(TypeCommitmentDetected, "first", first.handle))
	require.NoError(t, b.Subscribe(TypeCommitmentDetected, "second", second.handle))

	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	for _, id := range ids {
		require.NoError(t, b.Publish(context.Background(), commitmentMsg(id)))
	}

	for _, c := range []*collector{first, second} {
		got := c.wait(t, len(ids))
		for i, m := range got {
			assert.Equal(t, ids[i], m.Payload.(CommitmentPayload).Commitment.ID)
			assert.NotEmpty(t, m.ID)
			assert.False(t, m.Timestamp.IsZero())
		}
	}
}

func TestPublish_RejectsInvalidMessages(t *testing.T) {
	b := New(nil)
	defer b.Close()

	tests := []struct {
		name string
		msg  Message
	}{
		{"unknown type", Message{Type: "gossip", From: "x", Payload: TextPayload{Text: "hi"}}},
		{"missing sender", Message{Type: TypeActionRequired, Payload: ActionPayload{Description: "d"}}},
		{"nil payload", Message{Type: TypeActionRequired, From: "x"}},
		{"wrong payload for type", Message{Type: TypeCommitmentDetected, From: "x", Payload: TextPayload{Text: "hi"}}},
		{"empty commitment", Message{Type: TypeCommitmentDetected, From: "x", Payload: CommitmentPayload{}}},
		{"context without related", Message{Type: TypeContextUpdate, From: "x", Payload: ContextPayload{ItemID: "i"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Publish(context.Background(), tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMessage)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestPublish_UrgentAcceptsTextPayload(t *testing.T) {
	b := New(nil)
	defer b.Close()
	c := newCollector()
	require.NoError(t, b.Subscribe(TypeUrgentNotification, "mgr", c.handle))
	require.NoError(t, b.Publish(context.Background(), Message{
		Type: TypeUrgentNotification, From: "pipeline", Payload: TextPayload{Text: "server down"},
	}))
	got := c.wait(t, 1)
	assert.Equal(t, "server down", got[0].Payload.(TextPayload).Text)
}

func TestDirectedMessages(t *testing.T) {
	b := New(nil)
	defer b.Close()

	agent, broadcast := newCollector(), newCollector()
	require.NoError(t, b.RegisterAgent("reminder_manager", agent.handle))
	require.Error(t, b.RegisterAgent("reminder_manager", agent.handle))
	require.NoError(t, b.Subscribe(TypeUrgentNotification, "other", broadcast.handle))

	msg := Message{
		Type:    TypeUrgentNotification,
		From:    "cli",
		To:      "reminder_manager",
		Payload: SearchQueryPayload{Query: "deck"},
	}
	require.NoError(t, b.Publish(context.Background(), msg))
	got := agent.wait(t, 1)
	assert.Equal(t, KindSearchQuery, got[0].Payload.Kind())

	select {
	case <-broadcast.ch:
		t.Fatal("directed message reached a broadcast subscriber")
	case <-time.After(50 * time.Millisecond):
	}

	msg.To = "nobody"
	assert.ErrorIs(t, b.Publish(context.Background(), msg), ErrUnknownRecipient)
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	c := newCollector()
	calls := 0
	require.NoError(t, b.Subscribe(TypeCommitmentDetected, "flaky", func(ctx context.Context, m Message) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return c.handle(ctx, m)
	}))

	require.NoError(t, b.Publish(context.Background(), commitmentMsg("a")))
	require.NoError(t, b.Publish(context.Background(), commitmentMsg("b")))
	got := c.wait(t, 1)
	assert.Equal(t, "b", got[0].Payload.(CommitmentPayload).Commitment.ID)
}

func TestPublish_HonorsContextWhenQueueFull(t *testing.T) {
	b := New(nil, WithQueueSize(1))
	block := make(chan struct{})
	require.NoError(t, b.Subscribe(TypeCommitmentDetected, "slow", func(context.Context, Message) error {
		<-block
		return nil
	}))

	// One in the handler, one buffered.
	require.NoError(t, b.Publish(context.Background(), commitmentMsg("1")))
	require.NoError(t, b.Publish(context.Background(), commitmentMsg("2")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, commitmentMsg("3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	b.Close()
	assert.ErrorIs(t, b.Publish(context.Background(), commitmentMsg("4")), ErrClosed)
}

func TestEncodeDecodePayload(t *testing.T) {
	deadline := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := ActionPayload{ReminderID: "r1", FollowupType: "email_response", Description: "reply", Deadline: deadline}
	kind, raw, err := EncodePayload(in)
	require.NoError(t, err)
	out, err := DecodePayload(kind, raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodePayload("mystery", raw)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

// startTestNATSServer starts an embedded NATS server for testing.
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

func TestNATSBridge_ForwardsBetweenProcesses(t *testing.T) {
	server := startTestNATSServer(t)

	connect := func() *nats.Conn {
		nc, err := nats.Connect(server.ClientURL())
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		return nc
	}

	// Process A publishes; process B only listens.
	bridgeA := NewNATSBridge(connect(), "nudged.bus", nil)
	busA := New(nil, WithMirror(bridgeA))
	defer busA.Close()
	localA := newCollector()
	require.NoError(t, busA.Subscribe(TypeCommitmentDetected, "local", localA.handle))
	require.NoError(t, bridgeA.Attach(busA))
	defer bridgeA.Close()

	ncB := connect()
	bridgeB := NewNATSBridge(ncB, "nudged.bus", nil)
	busB := New(nil)
	defer busB.Close()
	remote := newCollector()
	require.NoError(t, busB.Subscribe(TypeCommitmentDetected, "remote", remote.handle))
	require.NoError(t, bridgeB.Attach(busB))
	defer bridgeB.Close()
	require.NoError(t, ncB.Flush())

	require.NoError(t, busA.Publish(context.Background(), commitmentMsg("shared")))

	got := remote.wait(t, 1)
	assert.Equal(t, "shared", got[0].Payload.(CommitmentPayload).Commitment.ID)
	assert.Equal(t, "commitment_detector", got[0].From)

	// A sees its own message exactly once: locally, not echoed back.
	localA.wait(t, 1)
	select {
	case <-localA.ch:
		t.Fatal("bridge echoed its own message")
	case <-time.After(100 * time.Millisecond):
	}
}
