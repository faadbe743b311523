// Package scheduler runs keyed deadlines from a single min-heap.
//
// Every timer in the daemon (reminder due times, overdue checks, followup
// expiry, notification delivery) is an entry here. Scheduling a key that is
// already pending replaces the earlier entry, so each key has at most one
// outstanding deadline and fires at most once per scheduling.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Func is the work attached to a deadline. It receives the time the
// scheduler considered "now" when the entry fired.
type Func func(ctx context.Context, now time.Time)

type entry struct {
	key   string
	due   time.Time
	fn    Func
	seq   uint64
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns the deadline heap and, once started, a timer goroutine that
// fires entries as they come due.
//
// Thread Safety: all methods are safe for concurrent use. Entry functions run
// outside the lock and may schedule or cancel other keys.
type Scheduler struct {
	mu      sync.Mutex
	entries entryHeap
	byKey   map[string]*entry
	seq     uint64

	now    func() time.Time
	logger *zap.Logger

	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source. Tests use it with RunDue to drive
// the heap deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an idle scheduler. Call Start to fire entries automatically or
// RunDue to fire them by hand.
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		byKey:  make(map[string]*entry),
		now:    time.Now,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time { return s.now() }

// Schedule arms key to run fn at due, replacing any pending entry for key.
func (s *Scheduler) Schedule(key string, due time.Time, fn Func) {
	s.mu.Lock()
	s.seq++
	if e, ok := s.byKey[key]; ok {
		e.due = due
		e.fn = fn
		e.seq = s.seq
		heap.Fix(&s.entries, e.index)
	} else {
		e := &entry{key: key, due: due, fn: fn, seq: s.seq}
		heap.Push(&s.entries, e)
		s.byKey[key] = e
	}
	s.mu.Unlock()
	s.poke()
}

// Cancel removes the pending entry for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&s.entries, e.index)
	delete(s.byKey, key)
	return true
}

// Due returns the deadline armed for key.
func (s *Scheduler) Due(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[key]; ok {
		return e.due, true
	}
	return time.Time{}, false
}

// Pending returns the number of armed entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunDue fires, in deadline order, every entry due at or before now and
// returns how many ran. Entries scheduled by a firing function for a time
// at or before now also run in the same call.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	ran := 0
	for {
		s.mu.Lock()
		if len(s.entries) == 0 || s.entries[0].due.After(now) {
			s.mu.Unlock()
			return ran
		}
		e := heap.Pop(&s.entries).(*entry)
		delete(s.byKey, e.key)
		s.mu.Unlock()

		s.fire(ctx, e, now)
		ran++
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled function panicked",
				zap.String("key", e.key),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	e.fn(ctx, now)
}

// Start launches the timer goroutine. Entries fire with ctx until Stop is
// called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, s.stopCh, s.done)
	s.logger.Debug("scheduler started", zap.Int("pending", len(s.entries)))
	return nil
}

// Stop halts the timer goroutine and waits for an in-flight entry to finish.
// Pending entries are kept. Stop on an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()
	<-done
	s.logger.Debug("scheduler stopped")
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].due, true
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.RunDue(ctx, s.now())

		wait := time.Hour
		if due, ok := s.next(); ok {
			wait = due.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
