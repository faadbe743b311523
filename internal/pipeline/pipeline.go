package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/admission"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/commitment"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/followup"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/secrets"
	"github.com/fyrsmithlabs/nudged/internal/tagging"
)

const instrumentationName = "github.com/fyrsmithlabs/nudged/internal/pipeline"

// AgentName identifies the pipeline on the bus.
const AgentName = "pipeline"

// Stage names reported by Agents.
const (
	StageAdmission   = "admission_filter"
	StageTagging     = "classifier"
	StageCommitment  = commitment.AgentName
	StageFollowup    = followup.AgentName
	StageCorrelation = correlation.AgentName
)

// ErrMissingDependency is returned by New when a required stage is nil.
var ErrMissingDependency = errors.New("pipeline dependency missing")

// Deps are the stages the pipeline drives.
type Deps struct {
	Filter     *admission.Filter
	Tagger     *tagging.Tagger
	Detector   *commitment.Detector
	Tracker    *followup.Tracker
	Correlator *correlation.Correlator
	Reminders  *reminder.Manager
	Bus        bus.Publisher
	// Scrubber redacts credentials before any stage sees the content.
	// Optional.
	Scrubber *secrets.Scrubber
}

// Outcome describes what happened to one item.
type Outcome struct {
	Item        activity.ContentItem     `json:"item"`
	Decision    admission.Decision       `json:"decision"`
	Tags        activity.TagSet          `json:"tags,omitempty"`
	Commitment  *activity.CommitmentInfo `json:"commitment,omitempty"`
	Followup    *followup.Pending        `json:"followup,omitempty"`
	Correlation *correlation.Result      `json:"correlation,omitempty"`
	Urgent      bool                     `json:"urgent"`
	Redacted    int                      `json:"redacted,omitempty"`
}

// Stats is the pipeline's observability summary.
type Stats struct {
	TotalItemsProcessed int64   `json:"total_items_processed"`
	ItemsFiltered       int64   `json:"items_filtered"`
	ItemsPassed         int64   `json:"items_passed"`
	FilterRate          float64 `json:"filter_rate"`
	ActiveTasks         int     `json:"active_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	UrgentTasks         int     `json:"urgent_tasks"`
	OverdueTasks        int     `json:"overdue_tasks"`
}

// AgentStatus reports whether a stage is working on an item right now.
type AgentStatus struct {
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	Processed  int64     `json:"processed"`
	Errors     int64     `json:"errors"`
	LastActive time.Time `json:"last_active,omitempty"`
}

type agent struct {
	name      string
	inflight  atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
	last      atomic.Int64
}

func (a *agent) enter() { a.inflight.Add(1) }

func (a *agent) leave(now time.Time, err error) {
	a.inflight.Add(-1)
	a.processed.Add(1)
	a.last.Store(now.UnixNano())
	if err != nil {
		a.errors.Add(1)
	}
}

func (a *agent) status() AgentStatus {
	s := AgentStatus{
		Name:      a.name,
		Active:    a.inflight.Load() > 0,
		Processed: a.processed.Load(),
		Errors:    a.errors.Load(),
	}
	if ns := a.last.Load(); ns > 0 {
		s.LastActive = time.Unix(0, ns).UTC()
	}
	return s
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the timestamp given to ingested items.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline wires the stages together.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
	tracer trace.Tracer

	itemsCounter metric.Int64Counter
	stageLatency metric.Float64Histogram

	agents map[string]*agent
}

// New validates deps and builds the pipeline.
func New(deps Deps, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Filter == nil:
		return nil, fmt.Errorf("%w: admission filter", ErrMissingDependency)
	case deps.Tagger == nil:
		return nil, fmt.Errorf("%w: tagger", ErrMissingDependency)
	case deps.Detector == nil:
		return nil, fmt.Errorf("%w: commitment detector", ErrMissingDependency)
	case deps.Tracker == nil:
		return nil, fmt.Errorf("%w: followup tracker", ErrMissingDependency)
	case deps.Correlator == nil:
		return nil, fmt.Errorf("%w: correlator", ErrMissingDependency)
	case deps.Reminders == nil:
		return nil, fmt.Errorf("%w: reminder manager", ErrMissingDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		deps:   deps,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
		agents: make(map[string]*agent),
	}
	for _, name := range []string{StageAdmission, StageTagging, StageCommitment, StageFollowup, StageCorrelation} {
		p.agents[name] = &agent{name: name}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.initMetrics()
	return p, nil
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	p.itemsCounter, err = meter.Int64Counter(
		"nudged.pipeline.items_total",
		metric.WithDescription("Items seen by the pipeline, by admission outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		p.logger.Warn("failed to create items counter", zap.Error(err))
	}
	p.stageLatency, err = meter.Float64Histogram(
		"nudged.pipeline.stage_duration",
		metric.WithDescription("Time spent per pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		p.logger.Warn("failed to create stage histogram", zap.Error(err))
	}
}

// Ingest is the producer entry point: it wraps content in a ContentItem
// stamped now and processes it.
func (p *Pipeline) Ingest(ctx context.Context, content string, src activity.Source, priority activity.Priority) (Outcome, error) {
	item := activity.NewContentItemAt(content, src, priority, p.now())
	if err := item.Validate(); err != nil {
		return Outcome{Item: item}, fmt.Errorf("invalid item: %w", err)
	}
	return p.Process(ctx, item)
}

// Process runs an already built item through the pipeline. Stage errors do
// not stop the other stages; the first one is returned alongside the
// outcome.
func (p *Pipeline) Process(ctx context.Context, item activity.ContentItem) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", item.ID),
		attribute.String("source.kind", string(item.Source.Kind)),
		attribute.String("priority", item.Priority.String()),
	)

	redacted := 0
	if res := p.deps.Scrubber.Scrub(item.Content); res.Redacted() > 0 {
		item.Content = res.Content
		redacted = res.Redacted()
		span.SetAttributes(attribute.Int("secrets.redacted", redacted))
		p.logger.Info("redacted credentials from item",
			zap.String("item.id", item.ID),
			zap.Any("rules", res.ByRule()),
		)
	}
	out := Outcome{Item: item, Redacted: redacted}

	var decision admission.Decision
	p.stage(ctx, StageAdmission, func() error {
		decision = p.deps.Filter.Evaluate(ctx, item)
		return nil
	})
	out.Decision = decision
	span.SetAttributes(attribute.Bool("admitted", decision.Admit), attribute.String("admission.tier", string(decision.Tier)))
	if !decision.Admit {
		p.countItem(ctx, "filtered")
		p.logger.Debug("item filtered",
			zap.String("item.id", item.ID),
			zap.String("tier", string(decision.Tier)),
			zap.String("reason", decision.Reason),
		)
		return out, nil
	}
	p.countItem(ctx, "passed")

	p.stage(ctx, StageTagging, func() error {
		out.Tags = p.deps.Tagger.Tag(ctx, item)
		return nil
	})
	span.SetAttributes(attribute.StringSlice("tags", out.Tags.Strings()))

	var g errgroup.Group
	g.Go(func() error {
		var err error
		p.stage(ctx, StageCommitment, func() error {
			out.Commitment, err = p.deps.Detector.Process(ctx, item)
			return err
		})
		return err
	})
	g.Go(func() error {
		var err error
		p.stage(ctx, StageFollowup, func() error {
			out.Followup, err = p.deps.Tracker.Process(ctx, item, out.Tags)
			return err
		})
		return err
	})
	g.Go(func() error {
		var err error
		p.stage(ctx, StageCorrelation, func() error {
			var res correlation.Result
			res, err = p.deps.Correlator.Correlate(ctx, item, out.Tags)
			out.Correlation = &res
			return err
		})
		return err
	})
	err := g.Wait()

	if out.Commitment != nil {
		p.deps.Correlator.AttachCommitment(item.ID, out.Commitment.ID)
	}

	if isUrgent(item, out.Tags) {
		out.Urgent = true
		if uerr := p.publishUrgent(ctx, item, out.Tags); uerr != nil && err == nil {
			err = uerr
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("pipeline stage failed", zap.String("item.id", item.ID), zap.Error(err))
	}
	p.logger.Info("item processed",
		zap.String("item.id", item.ID),
		zap.Strings("tags", out.Tags.Strings()),
		zap.Bool("commitment", out.Commitment != nil),
		zap.Bool("followup", out.Followup != nil),
		zap.Bool("urgent", out.Urgent),
	)
	return out, err
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) {
	a := p.agents[name]
	a.enter()
	start := time.Now()
	err := fn()
	a.leave(time.Now(), err)
	if p.stageLatency != nil {
		p.stageLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", name)))
	}
}

func (p *Pipeline) countItem(ctx context.Context, outcome string) {
	if p.itemsCounter != nil {
		p.itemsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// isUrgent holds for urgent-priority items and for urgent tags paired with
// an action or a deadline.
func isUrgent(item activity.ContentItem, tags activity.TagSet) bool {
	if item.Priority >= activity.PriorityUrgent {
		return true
	}
	return tags.Has(activity.TagUrgentAction) && tags.HasAny(activity.TagActionItem, activity.TagDeadline)
}

func (p *Pipeline) publishUrgent(ctx context.Context, item activity.ContentItem, tags activity.TagSet) error {
	if p.deps.Bus == nil {
		return nil
	}
	desc := item.Content
	if sentences := activity.SentencesWithPunctuation(item.Content); len(sentences) > 0 {
		desc = sentences[0]
	}
	return p.deps.Bus.Publish(ctx, bus.Message{
		Type: bus.TypeUrgentNotification,
		From: AgentName,
		Payload: bus.ActionPayload{
			ReminderID:   uuid.New().String(),
			Description:  activity.Truncate(desc, 200),
			Deadline:     item.Timestamp,
			Participants: item.Source.People(),
			SourceItemID: item.ID,
			Reason:       urgentReason(item, tags),
		},
		Priority: activity.PriorityUrgent,
	})
}

func urgentReason(item activity.ContentItem, tags activity.TagSet) string {
	if item.Priority >= activity.PriorityUrgent {
		return "urgent priority"
	}
	if tags.Has(activity.TagDeadline) {
		return "urgent deadline"
	}
	return "urgent action item"
}

// Stats merges the admission counters with the reminder counts.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	fs := p.deps.Filter.Stats()
	rs, err := p.deps.Reminders.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalItemsProcessed: fs.TotalProcessed,
		ItemsFiltered:       fs.Filtered,
		ItemsPassed:         fs.Passed,
		FilterRate:          fs.FilterRate,
		ActiveTasks:         rs.Active,
		CompletedTasks:      rs.Completed,
		UrgentTasks:         rs.Urgent,
		OverdueTasks:        rs.Overdue,
	}, nil
}

// Agents reports per-stage activity, sorted by name.
func (p *Pipeline) Agents() []AgentStatus {
	out := make([]AgentStatus, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns the admission filter.
func (p *Pipeline) Filter() *admission.Filter { return p.deps.Filter }

// Reminders returns the reminder manager.
func (p *Pipeline) Reminders() *reminder.Manager { return p.deps.Reminders }

// Correlator returns the context correlator.
func (p *Pipeline) Correlator() *correlation.Correlator { return p.deps.Correlator }

// Sweep runs every periodic check once at now: followup escalation, the
// reminder overdue sweep and thread retention. The scheduler drives each
// deadline individually; Sweep is the backstop for entries restored from
// storage or missed while the process was down.
func (p *Pipeline) Sweep(ctx context.Context, now time.Time) (followups, overdue int, err error) {
	followups = p.deps.Tracker.Sweep(ctx, now)
	overdue, err = p.deps.Reminders.SweepOverdue(ctx, now)
	p.deps.Correlator.Purge(now)
	return followups, overdue, err
}

const sweepKey = "pipeline:sweep"

// ScheduleSweeps runs Sweep every interval on sched.
func (p *Pipeline) ScheduleSweeps(sched *scheduler.Scheduler, every time.Duration) {
	var run scheduler.Func
	run = func(ctx context.Context, now time.Time) {
		followups, overdue, err := p.Sweep(ctx, now)
		if err != nil {
			p.logger.Error("periodic sweep failed", zap.Error(err))
		} else if followups+overdue > 0 {
			p.logger.Info("periodic sweep escalated reminders",
				zap.Int("followups", followups),
				zap.Int("overdue", overdue),
			)
		}
		sched.Schedule(sweepKey, now.Add(every), run)
	}
	sched.Schedule(sweepKey, sched.Now().Add(every), run)
}
