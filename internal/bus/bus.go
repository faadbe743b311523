// Package bus is the asynchronous message bus that connects the pipeline
// stages to the reminder manager.
//
// Each subscription owns a FIFO queue drained by its own goroutine, so the
// order in which one publisher emits messages is the order every subscriber
// observes them, while different subscribers run concurrently. Delivery is
// at-least-once when a NATS mirror is attached; handlers must be idempotent.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes a delivered message. Returned errors are logged.
type Handler func(ctx context.Context, msg Message) error

// Publisher is the side of the bus the pipeline stages depend on.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Mirror receives every locally published message, typically to forward it
// to other processes.
type Mirror interface {
	Mirror(ctx context.Context, msg Message) error
}

const defaultQueueSize = 256

type delivery struct {
	ctx context.Context
	msg Message
}

type subscription struct {
	name    string
	handler Handler
	queue   chan delivery
}

// Bus routes messages by type to subscribers and by name to agents.
type Bus struct {
	mu      sync.RWMutex
	subs    map[MessageType][]*subscription
	agents  map[string]*subscription
	mirror  Mirror
	closed  bool
	wg      sync.WaitGroup
	queue   int
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscription buffer. Publishers block once a
// subscriber's queue is full.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = n
		}
	}
}

// WithMirror forwards every locally published message to m.
func WithMirror(m Mirror) Option {
	return func(b *Bus) { b.mirror = m }
}

// New creates an empty bus.
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		subs:    make(map[MessageType][]*subscription),
		agents:  make(map[string]*subscription),
		queue:   defaultQueueSize,
		logger:  logger,
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Publisher = (*Bus)(nil)

// SetMirror attaches m after construction.
func (b *Bus) SetMirror(m Mirror) {
	b.mu.Lock()
	b.mirror = m
	b.mu.Unlock()
}

// Subscribe registers handler for broadcasts of type t. name identifies the
// subscriber in logs.
func (b *Bus) Subscribe(t MessageType, name string, handler Handler) error {
	if !t.Valid() {
		return fmt.Errorf("subscribe %q: %w", t, ErrInvalidMessage)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs[t] = append(b.subs[t], b.start(name, handler))
	return nil
}

// RegisterAgent registers handler for messages addressed to name.
// Registering the same name twice replaces nothing and returns an error.
func (b *Bus) RegisterAgent(name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.agents[name]; ok {
		return fmt.Errorf("agent %q already registered", name)
	}
	b.agents[name] = b.start(name, handler)
	return nil
}

// start must be called with b.mu held.
func (b *Bus) start(name string, handler Handler) *subscription {
	s := &subscription{name: name, handler: handler, queue: make(chan delivery, b.queue)}
	b.wg.Add(1)
	go b.drain(s)
	return s
}

func (b *Bus) drain(s *subscription) {
	defer b.wg.Done()
	for d := range s.queue {
		b.handle(s, d)
	}
}

func (b *Bus) handle(s *subscription, d delivery) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerErrors.WithLabelValues(string(d.msg.Type), "panic").Inc()
			b.logger.Error("bus handler panicked",
				zap.String("subscriber", s.name),
				zap.String("message.type", string(d.msg.Type)),
				zap.String("message.id", d.msg.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	err := s.handler(d.ctx, d.msg)
	b.metrics.HandlerDuration.WithLabelValues(string(d.msg.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		b.metrics.HandlerErrors.WithLabelValues(string(d.msg.Type), "error").Inc()
		b.logger.Warn("bus handler failed",
			zap.String("subscriber", s.name),
			zap.String("message.type", string(d.msg.Type)),
			zap.String("message.id", d.msg.ID),
			zap.Error(err),
		)
	}
}

// Publish validates msg and enqueues it for every matching subscriber.
// It blocks only while a subscriber queue is full, and gives up when ctx
// is done. Handlers run with a context that keeps ctx's values but not
// its cancellation.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if err := b.deliver(ctx, msg); err != nil {
		return err
	}
	b.mu.RLock()
	mirror := b.mirror
	b.mu.RUnlock()
	if mirror != nil {
		if err := mirror.Mirror(ctx, msg); err != nil {
			b.logger.Warn("bus mirror failed",
				zap.String("message.type", string(msg.Type)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Inject delivers a message that originated elsewhere (for example on a
// NATS mirror) without mirroring it again.
func (b *Bus) Inject(ctx context.Context, msg Message) error {
	return b.deliver(ctx, msg)
}

func (b *Bus) deliver(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		b.metrics.Rejected.WithLabelValues(string(msg.Type)).Inc()
		b.logger.Warn("rejected invalid message", zap.Error(err))
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	var targets []*subscription
	if msg.To != "" {
		agent, ok := b.agents[msg.To]
		if !ok {
			return fmt.Errorf("deliver to %q: %w", msg.To, ErrUnknownRecipient)
		}
		targets = []*subscription{agent}
	} else {
		targets = b.subs[msg.Type]
	}

	d := delivery{ctx: context.WithoutCancel(ctx), msg: msg}
	for _, s := range targets {
		select {
		case s.queue <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.metrics.Published.WithLabelValues(string(msg.Type)).Inc()
	b.logger.Debug("message published",
		zap.String("message.type", string(msg.Type)),
		zap.String("message.id", msg.ID),
		zap.String("from", msg.From),
		zap.Int("subscribers", len(targets)),
	)
	return nil
}

// Close stops accepting messages, drains every queue and waits for the
// handlers to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	for _, s := range b.agents {
		close(s.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
