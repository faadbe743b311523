package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestRunDue_FiresInDeadlineOrder(t *testing.T) {
	s := New(nil)
	var order []string
	record := func(name string) Func {
		return func(context.Context, time.Time) { order = append(order, name) }
	}

	s.Schedule("c", base.Add(3*time.Minute), record("c"))
	s.Schedule("a", base.Add(1*time.Minute), record("a"))
	s.Schedule("b", base.Add(2*time.Minute), record("b"))
	s.Schedule("later", base.Add(time.Hour), record("later"))

	ran := s.RunDue(context.Background(), base.Add(5*time.Minute))
	assert.Equal(t, 3, ran)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 1, s.Pending())
}

func TestSchedule_ReplacesExistingKey(t *testing.T) {
	s := New(nil)
	var fired []string
	s.Schedule("r1", base.Add(time.Minute), func(context.Context, time.Time) { fired = append(fired, "first") })
	s.Schedule("r1", base.Add(2*time.Minute), func(context.Context, time.Time) { fired = append(fired, "second") })

	assert.Equal(t, 1, s.Pending())
	due, ok := s.Due("r1")
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Minute), due)

	s.RunDue(context.Background(), base.Add(time.Hour))
	assert.Equal(t, []string{"second"}, fired)

	// Fired entries are gone.
	assert.Zero(t, s.RunDue(context.Background(), base.Add(2*time.Hour)))
}

func TestCancel(t *testing.T) {
	s := New(nil)
	s.Schedule("x", base, func(context.Context, time.Time) { t.Fatal("cancelled entry ran") })
	assert.True(t, s.Cancel("x"))
	assert.False(t, s.Cancel("x"))
	assert.Zero(t, s.RunDue(context.Background(), base.Add(time.Hour)))
}

func TestRunDue_RecoversPanics(t *testing.T) {
	s := New(nil)
	var ran bool
	s.Schedule("boom", base, func(context.Context, time.Time) { panic("boom") })
	s.Schedule("ok", base.Add(time.Second), func(context.Context, time.Time) { ran = true })

	assert.Equal(t, 2, s.RunDue(context.Background(), base.Add(time.Minute)))
	assert.True(t, ran)
}

func TestRunDue_EntryMayRescheduleItself(t *testing.T) {
	s := New(nil)
	var count int
	var fn Func
	fn = func(_ context.Context, now time.Time) {
		count++
		if count < 3 {
			s.Schedule("tick", now.Add(time.Hour), fn)
		}
	}
	s.Schedule("tick", base, fn)

	s.RunDue(context.Background(), base)
	s.RunDue(context.Background(), base.Add(time.Hour))
	s.RunDue(context.Background(), base.Add(2*time.Hour))
	s.RunDue(context.Background(), base.Add(3*time.Hour))
	assert.Equal(t, 3, count)
	assert.Zero(t, s.Pending())
}

func TestStartStop_FiresWithRealClock(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	var fired atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule("soon", time.Now().Add(20*time.Millisecond), func(context.Context, time.Time) {
		fired.Add(1)
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never fired")
	}
	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_FiresEachKeyAtMostOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(nil)
		fired := map[string]int{}
		n := rapid.IntRange(1, 40).Draw(rt, "ops")
		for i := 0; i < n; i++ {
			key := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(rt, "key")
			offset := time.Duration(rapid.IntRange(0, 120).Draw(rt, "minutes")) * time.Minute
			if rapid.Bool().Draw(rt, "cancel") {
				s.Cancel(key)
				continue
			}
			k := key
			s.Schedule(k, base.Add(offset), func(context.Context, time.Time) { fired[k]++ })
		}
		pending := s.Pending()
		if pending > 4 {
			rt.Fatalf("more than one entry per key: %d pending", pending)
		}
		ran := s.RunDue(context.Background(), base.Add(3*time.Hour))
		if ran != pending {
			rt.Fatalf("ran %d, expected %d", ran, pending)
		}
		for k, c := range fired {
			if c != 1 {
				rt.Fatalf("key %s fired %d times", k, c)
			}
		}
	})
}
