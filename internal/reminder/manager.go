package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/notify"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/store"
)

// AgentName identifies the manager on the bus.
const AgentName = "reminder_manager"

const schedulerPrefix = "reminder:"

// History supplies recent activity for fulfillment checks. The context
// correlator implements it.
type History interface {
	Since(t time.Time) []correlation.ContextItem
}

// Config tunes the manager.
type Config struct {
	// OverdueGrace is how long past its scheduled time an active reminder
	// may sit before it is escalated.
	OverdueGrace time.Duration `json:"overdue_grace"`
	// DefaultSnooze applies when Snooze is called without a duration.
	DefaultSnooze time.Duration `json:"default_snooze"`
	// DefaultDelay schedules reminders created without a time.
	DefaultDelay time.Duration `json:"default_delay"`
	// RelevanceThreshold is the word-overlap score at which later activity
	// counts as evidence for a reminder.
	RelevanceThreshold float64 `json:"relevance_threshold"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		OverdueGrace:       time.Hour,
		DefaultSnooze:      15 * time.Minute,
		DefaultDelay:       3 * time.Hour,
		RelevanceThreshold: 0.15,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHistory sets the activity source for fulfillment checks.
func WithHistory(h History) Option {
	return func(m *Manager) { m.history = h }
}

// WithTransitionHook observes every status change. The hook runs on the
// manager goroutine and must not call back into the manager.
func WithTransitionHook(fn func(Transition)) Option {
	return func(m *Manager) { m.onTransition = fn }
}

// Manager owns every reminder. All state lives on a single goroutine that
// executes operations sent over a channel; the exported methods are safe
// for concurrent use and block until their operation has run.
type Manager struct {
	cfg          Config
	sched        *scheduler.Scheduler
	notifier     notify.Notifier
	kv           store.KV
	history      History
	logger       *zap.Logger
	now          func() time.Time
	onTransition func(Transition)
	metrics      *Metrics

	ops       chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	reminders map[string]*Reminder
	aliases   map[string]string
}

// New creates a manager and starts its goroutine. notifier, kv and sched
// may be nil.
func New(cfg Config, sched *scheduler.Scheduler, notifier notify.Notifier, kv store.KV, logger *zap.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.OverdueGrace <= 0 {
		cfg.OverdueGrace = def.OverdueGrace
	}
	if cfg.DefaultSnooze <= 0 {
		cfg.DefaultSnooze = def.DefaultSnooze
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = def.DefaultDelay
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = def.RelevanceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		sched:     sched,
		notifier:  notifier,
		kv:        kv,
		logger:    logger,
		now:       time.Now,
		metrics:   NewMetrics(),
		ops:       make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		reminders: make(map[string]*Reminder),
		aliases:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case op := <-m.ops:
			op()
		case <-m.stop:
			return
		}
	}
}

// Close stops the manager goroutine. Pending scheduler entries stay in the
// scheduler and fail with ErrClosed when they fire.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
}

// do runs fn on the manager goroutine and returns its error.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	op := func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("reminder operation panicked", zap.Any("panic", r))
				result <- fmt.Errorf("reminder operation panicked: %v", r)
			}
		}()
		result <- fn()
	}
	select {
	case m.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrClosed
	}
	return <-result
}

// Create adds a reminder. Creating with an id or commitment id that already
// exists returns the existing reminder unchanged.
func (m *Manager) Create(ctx context.Context, d Draft) (Reminder, error) {
	var out Reminder
	err := m.do(ctx, func() error {
		r, created, err := m.createLocked(ctx, d)
		if err != nil {
			return err
		}
		if created {
			m.persistLocked(ctx)
		}
		out = clone(r)
		return nil
	})
	return out, err
}

// Snooze pushes an active reminder back by d (DefaultSnooze when d <= 0).
func (m *Manager) Snooze(ctx context.Context, id string, d time.Duration) (Reminder, error) {
	if d <= 0 {
		d = m.cfg.DefaultSnooze
	}
	return m.mutate(ctx, id, func(r *Reminder, now time.Time) error {
		if err := m.transitionLocked(r, StatusSnoozed, now); err != nil {
			return err
		}
		r.ScheduledTime = now.Add(d)
		r.SnoozeCount++
		m.armLocked(r)
		m.notifyLocked(ctx, r)
		return nil
	})
}

// Dismiss ends a reminder without completing it.
func (m *Manager) Dismiss(ctx context.Context, id string) (Reminder, error) {
	return m.mutate(ctx, id, func(r *Reminder, now time.Time) error {
		if err := m.transitionLocked(r, StatusDismissed, now); err != nil {
			return err
		}
		m.disarmLocked(ctx, r)
		return nil
	})
}

// Complete marks a reminder done.
func (m *Manager) Complete(ctx context.Context, id string) (Reminder, error) {
	return m.mutate(ctx, id, func(r *Reminder, now time.Time) error {
		if err := m.transitionLocked(r, StatusCompleted, now); err != nil {
			return err
		}
		m.disarmLocked(ctx, r)
		return nil
	})
}

func (m *Manager) mutate(ctx context.Context, id string, fn func(*Reminder, time.Time) error) (Reminder, error) {
	var out Reminder
	err := m.do(ctx, func() error {
		r, ok := m.lookupLocked(id)
		if !ok {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if err := fn(r, m.now()); err != nil {
			return err
		}
		m.persistLocked(ctx)
		out = clone(r)
		return nil
	})
	return out, err
}

// Get returns the reminder with id or one of its aliases.
func (m *Manager) Get(ctx context.Context, id string) (Reminder, error) {
	var out Reminder
	err := m.do(ctx, func() error {
		r, ok := m.lookupLocked(id)
		if !ok {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		out = clone(r)
		return nil
	})
	return out, err
}

// List returns reminders ordered by scheduled time, optionally restricted
// to the given statuses.
func (m *Manager) List(ctx context.Context, statuses ...Status) ([]Reminder, error) {
	var out []Reminder
	err := m.do(ctx, func() error {
		out = m.listLocked(statuses...)
		return nil
	})
	return out, err
}

// IsOpen reports whether id (or an alias of it) names an active reminder.
// Snoozed reminders have been seen by the user and report false.
func (m *Manager) IsOpen(ctx context.Context, id string) bool {
	open := false
	_ = m.do(ctx, func() error {
		r, ok := m.lookupLocked(id)
		open = ok && r.Status == StatusActive
		return nil
	})
	return open
}

// Stats counts reminders by status. Overdue counts active reminders past
// their scheduled time.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := m.do(ctx, func() error {
		now := m.now()
		for _, r := range m.reminders {
			s.Total++
			switch r.Status {
			case StatusActive:
				s.Active++
				if now.After(r.ScheduledTime) {
					s.Overdue++
				}
			case StatusSnoozed:
				s.Snoozed++
			case StatusCompleted:
				s.Completed++
			case StatusDismissed:
				s.Dismissed++
			case StatusEscalated:
				s.Escalated++
			}
			if r.Outstanding() && (r.Type == TypeUrgent || r.Priority >= activity.PriorityUrgent) {
				s.Urgent++
			}
		}
		return nil
	})
	return s, err
}

// SweepOverdue escalates every active reminder whose grace period has
// passed at now and wakes snoozed reminders that are due. It returns the
// number of escalations.
func (m *Manager) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := m.do(ctx, func() error {
		changed := false
		for _, r := range m.listPtrsLocked() {
			switch {
			case m.overdueLocked(r, now):
				if _, err := m.escalateLocked(ctx, r, now); err != nil {
					return err
				}
				n++
				changed = true
			case r.Status == StatusSnoozed && !now.Before(r.ScheduledTime):
				if err := m.wakeLocked(r, now); err != nil {
					return err
				}
				changed = true
			}
		}
		if changed {
			m.persistLocked(ctx)
		}
		return nil
	})
	return n, err
}

// Load restores reminders from storage and re-arms the outstanding ones.
func (m *Manager) Load(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}
	var saved []Reminder
	if _, err := store.LoadJSON(ctx, m.kv, store.KeyReminders, &saved); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		for i := range saved {
			r := saved[i]
			if r.Fulfillment == "" {
				r.Fulfillment = FulfillmentUnknown
			}
			m.reminders[r.ID] = &r
			for _, a := range r.Metadata.Aliases {
				m.aliases[a] = r.ID
			}
			m.armLocked(&r)
		}
		m.logger.Info("reminders loaded", zap.Int("count", len(saved)))
		m.updateGaugesLocked()
		return nil
	})
}

func (m *Manager) lookupLocked(id string) (*Reminder, bool) {
	if r, ok := m.reminders[id]; ok {
		return r, true
	}
	if target, ok := m.aliases[id]; ok {
		r, ok := m.reminders[target]
		return r, ok
	}
	return nil, false
}

func (m *Manager) createLocked(ctx context.Context, d Draft) (*Reminder, bool, error) {
	if d.Description == "" {
		return nil, false, fmt.Errorf("%w: description is required", ErrInvalidReminder)
	}
	if !d.Type.Valid() {
		return nil, false, fmt.Errorf("%w: unknown type %q", ErrInvalidReminder, d.Type)
	}
	if d.ID != "" {
		if r, ok := m.lookupLocked(d.ID); ok {
			return r, false, nil
		}
	}
	if d.CommitmentID != "" {
		if r := m.byCommitmentLocked(d.CommitmentID); r != nil {
			return r, false, nil
		}
	}

	now := m.now()
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	scheduled := d.ScheduledTime
	if scheduled.IsZero() {
		scheduled = now.Add(m.cfg.DefaultDelay)
	}
	r := &Reminder{
		ID:            id,
		Description:   d.Description,
		Type:          d.Type,
		Priority:      d.Priority,
		ScheduledTime: scheduled,
		CreatedAt:     now,
		Participants:  dedupe(d.Participants),
		CommitmentID:  d.CommitmentID,
		SourceItemID:  d.SourceItemID,
		Status:        StatusActive,
		Fulfillment:   FulfillmentUnknown,
		Metadata:      d.Metadata,
	}
	m.reminders[id] = r
	m.armLocked(r)
	m.notifyLocked(ctx, r)
	m.metrics.Created.WithLabelValues(string(r.Type)).Inc()
	m.updateGaugesLocked()

	m.logger.Info("reminder created",
		zap.String("reminder.id", r.ID),
		zap.String("type", string(r.Type)),
		zap.Stringer("priority", r.Priority),
		zap.Time("scheduled_time", r.ScheduledTime),
	)
	return r, true, nil
}

func (m *Manager) byCommitmentLocked(commitmentID string) *Reminder {
	for _, r := range m.reminders {
		if r.CommitmentID == commitmentID {
			return r
		}
	}
	return nil
}

func (m *Manager) transitionLocked(r *Reminder, to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	from := r.Status
	r.Status = to
	r.ModifiedAt = &now
	m.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	m.updateGaugesLocked()
	if m.onTransition != nil {
		m.onTransition(Transition{ReminderID: r.ID, From: from, To: to, At: now})
	}
	return nil
}

// overdueLocked reports whether r is active and its grace period has
// passed. Escalation reminders are never escalated again.
func (m *Manager) overdueLocked(r *Reminder, now time.Time) bool {
	return r.Status == StatusActive &&
		r.Metadata.EscalatedFrom == "" &&
		!now.Before(r.ScheduledTime.Add(m.cfg.OverdueGrace))
}

// escalateLocked moves r to escalated and creates its OVERDUE successor.
func (m *Manager) escalateLocked(ctx context.Context, r *Reminder, now time.Time) (*Reminder, error) {
	if err := m.transitionLocked(r, StatusEscalated, now); err != nil {
		return nil, err
	}
	m.disarmLocked(ctx, r)
	next, _, err := m.createLocked(ctx, Draft{
		Description:   "OVERDUE: " + r.Description,
		Type:          TypeUrgent,
		Priority:      activity.PriorityUrgent,
		ScheduledTime: now,
		Participants:  r.Participants,
		SourceItemID:  r.SourceItemID,
		Metadata: Metadata{
			EscalatedFrom: r.ID,
			FollowupType:  r.Metadata.FollowupType,
			Reason:        "overdue",
		},
	})
	if err != nil {
		return nil, err
	}
	m.metrics.Escalations.WithLabelValues("overdue").Inc()
	m.logger.Warn("reminder escalated",
		zap.String("reminder.id", r.ID),
		zap.String("escalation.id", next.ID),
	)
	return next, nil
}

func (m *Manager) wakeLocked(r *Reminder, now time.Time) error {
	if err := m.transitionLocked(r, StatusActive, now); err != nil {
		return err
	}
	m.armLocked(r)
	return nil
}

// armLocked keeps exactly one scheduler entry per outstanding reminder:
// the wake-up time while snoozed, the end of the grace period while active.
func (m *Manager) armLocked(r *Reminder) {
	if m.sched == nil {
		return
	}
	key := schedulerPrefix + r.ID
	id := r.ID
	switch {
	case r.Status == StatusSnoozed:
		m.sched.Schedule(key, r.ScheduledTime, func(ctx context.Context, now time.Time) {
			m.onDue(ctx, id, now)
		})
	case r.Status == StatusActive && r.Metadata.EscalatedFrom == "":
		m.sched.Schedule(key, r.ScheduledTime.Add(m.cfg.OverdueGrace), func(ctx context.Context, now time.Time) {
			m.onDue(ctx, id, now)
		})
	default:
		m.sched.Cancel(key)
	}
}

func (m *Manager) disarmLocked(ctx context.Context, r *Reminder) {
	if m.sched != nil {
		m.sched.Cancel(schedulerPrefix + r.ID)
	}
	if m.notifier != nil {
		if err := m.notifier.Cancel(ctx, r.ID); err != nil {
			m.logger.Error("failed to cancel notification", zap.String("reminder.id", r.ID), zap.Error(err))
		}
	}
}

func (m *Manager) onDue(ctx context.Context, id string, now time.Time) {
	err := m.do(ctx, func() error {
		r, ok := m.reminders[id]
		if !ok {
			return nil
		}
		switch {
		case m.overdueLocked(r, now):
			if _, err := m.escalateLocked(ctx, r, now); err != nil {
				return err
			}
		case r.Status == StatusSnoozed && !now.Before(r.ScheduledTime):
			if err := m.wakeLocked(r, now); err != nil {
				return err
			}
		default:
			return nil
		}
		m.persistLocked(ctx)
		return nil
	})
	if err != nil {
		m.logger.Error("scheduled reminder check failed", zap.String("reminder.id", id), zap.Error(err))
	}
}

func (m *Manager) notifyLocked(ctx context.Context, r *Reminder) {
	if m.notifier == nil {
		return
	}
	sound := notify.SoundDefault
	if r.Type == TypeUrgent || r.Priority >= activity.PriorityUrgent {
		sound = notify.SoundCritical
	}
	err := m.notifier.Schedule(ctx, notify.Notification{
		Identifier: r.ID,
		Title:      r.Type.Title(),
		Body:       r.Description,
		FireAt:     r.ScheduledTime,
		Sound:      sound,
	})
	if err != nil {
		m.logger.Error("failed to schedule notification", zap.String("reminder.id", r.ID), zap.Error(err))
	}
}

func (m *Manager) persistLocked(ctx context.Context) {
	if m.kv == nil {
		return
	}
	if err := store.SaveJSON(ctx, m.kv, store.KeyReminders, m.listLocked()); err != nil {
		m.metrics.PersistErrors.Inc()
		m.logger.Error("failed to persist reminders", zap.Error(err))
	}
}

func (m *Manager) listPtrsLocked() []*Reminder {
	out := make([]*Reminder, 0, len(m.reminders))
	for _, r := range m.reminders {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}

func (m *Manager) listLocked(statuses ...Status) []Reminder {
	out := make([]Reminder, 0, len(m.reminders))
	for _, r := range m.listPtrsLocked() {
		if len(statuses) > 0 && !hasStatus(statuses, r.Status) {
			continue
		}
		out = append(out, clone(r))
	}
	return out
}

func (m *Manager) updateGaugesLocked() {
	counts := make(map[Status]int, 5)
	for _, r := range m.reminders {
		counts[r.Status]++
	}
	for _, s := range []Status{StatusActive, StatusSnoozed, StatusCompleted, StatusDismissed, StatusEscalated} {
		m.metrics.Reminders.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func hasStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
