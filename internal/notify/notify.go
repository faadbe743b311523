// Package notify delivers reminder notifications at their scheduled time.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
)

// MaxBodyLength bounds Notification.Body in runes.
const MaxBodyLength = 100

// Sound selects how insistent the notification is.
type Sound string

const (
	SoundDefault  Sound = "default"
	SoundCritical Sound = "critical"
)

// Notification is a delivery request for one reminder. Identifier is the
// reminder id; scheduling the same identifier again replaces the earlier
// request.
type Notification struct {
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	FireAt     time.Time `json:"fire_at"`
	Sound      Sound     `json:"sound"`
}

// ErrNoIdentifier is returned when a notification has no identifier.
var ErrNoIdentifier = errors.New("notification identifier is required")

// Normalize trims the body to MaxBodyLength and defaults the sound.
func (n Notification) Normalize() Notification {
	n.Body = activity.Truncate(n.Body, MaxBodyLength)
	if n.Sound == "" {
		n.Sound = SoundDefault
	}
	return n
}

// Notifier is the delivery collaborator the reminder manager drives.
type Notifier interface {
	Schedule(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, identifier string) error
}

// Sink hands a due notification to the outside world.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

const keyPrefix = "notify:"

// Scheduled is a Notifier backed by the shared deadline scheduler. When a
// notification falls due it is delivered to every sink; sink failures are
// logged and never retried.
type Scheduled struct {
	sched   *scheduler.Scheduler
	sinks   []Sink
	logger  *zap.Logger
	metrics *Metrics
}

// NewScheduled creates a notifier that fires through sched into sinks.
func NewScheduled(sched *scheduler.Scheduler, logger *zap.Logger, sinks ...Sink) *Scheduled {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduled{sched: sched, sinks: sinks, logger: logger, metrics: NewMetrics()}
}

var _ Notifier = (*Scheduled)(nil)

// Schedule arms n, replacing any pending notification with the same
// identifier.
func (s *Scheduled) Schedule(_ context.Context, n Notification) error {
	if n.Identifier == "" {
		return ErrNoIdentifier
	}
	n = n.Normalize()
	s.sched.Schedule(keyPrefix+n.Identifier, n.FireAt, func(ctx context.Context, _ time.Time) {
		s.deliver(ctx, n)
	})
	s.metrics.Scheduled.Inc()
	return nil
}

// Cancel drops the pending notification for identifier, if any.
func (s *Scheduled) Cancel(_ context.Context, identifier string) error {
	if s.sched.Cancel(keyPrefix + identifier) {
		s.metrics.Cancelled.Inc()
	}
	return nil
}

// Pending reports whether a notification is armed for identifier.
func (s *Scheduled) Pending(identifier string) (time.Time, bool) {
	return s.sched.Due(keyPrefix + identifier)
}

func (s *Scheduled) deliver(ctx context.Context, n Notification) {
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			s.metrics.Delivered.WithLabelValues("error").Inc()
			s.logger.Error("notification delivery failed",
				zap.String("reminder.id", n.Identifier),
				zap.Error(err),
			)
			continue
		}
		s.metrics.Delivered.WithLabelValues("ok").Inc()
	}
}

// LogSink writes notifications to the log.
type LogSink struct {
	Logger *zap.Logger
}

// Deliver logs n at info level.
func (l LogSink) Deliver(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		return nil
	}
	logger.Info("reminder notification",
		zap.String("reminder.id", n.Identifier),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("sound", string(n.Sound)),
	)
	return nil
}

// Recorder is an in-memory Notifier that remembers what is pending and what
// was cancelled. Useful when no delivery channel is configured.
type Recorder struct {
	mu        sync.Mutex
	pending   map[string]Notification
	scheduled []Notification
	cancelled []string
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{pending: make(map[string]Notification)}
}

var _ Notifier = (*Recorder)(nil)

// Schedule records n as pending.
func (r *Recorder) Schedule(_ context.Context, n Notification) error {
	if n.Identifier == "" {
		return ErrNoIdentifier
	}
	n = n.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[n.Identifier] = n
	r.scheduled = append(r.scheduled, n)
	return nil
}

// Cancel removes the pending notification for identifier.
func (r *Recorder) Cancel(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[identifier]; ok {
		delete(r.pending, identifier)
		r.cancelled = append(r.cancelled, identifier)
	}
	return nil
}

// Pending returns the pending notification for identifier.
func (r *Recorder) Pending(identifier string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.pending[identifier]
	return n, ok
}

// Scheduled returns every Schedule call in order.
func (r *Recorder) Scheduled() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.scheduled...)
}

// Cancelled returns the identifiers whose pending notification was dropped.
func (r *Recorder) Cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}
