// Package followup decides whether an item is waiting on the user's reply
// and escalates when the reply window passes without the reminder being
// resolved.
package followup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
	"github.com/fyrsmithlabs/nudged/internal/scheduler"
	"github.com/fyrsmithlabs/nudged/internal/store"
)

// AgentName identifies the tracker on the bus.
const AgentName = "followup_tracker"

const schedulerPrefix = "followup:"

const assessmentPrompt = `You decide whether the user owes someone a response or a check-in for the captured snippet.
Respond ONLY with a JSON object:
{"needs_followup": bool, "type": "email_response"|"message_response"|"action_item_check"|"commitment_verification", "description": string, "hours": number, "confidence": 0.0-1.0}`

type modelAssessment struct {
	NeedsFollowup bool    `json:"needs_followup"`
	Type          Type    `json:"type"`
	Description   string  `json:"description"`
	Hours         float64 `json:"hours"`
	Confidence    float64 `json:"confidence"`
}

// Assessment is the outcome of Assess.
type Assessment struct {
	NeedsFollowup bool      `json:"needs_followup"`
	Type          Type      `json:"type,omitempty"`
	Description   string    `json:"description,omitempty"`
	Deadline      time.Time `json:"deadline,omitempty"`
	ByModel       bool      `json:"by_model,omitempty"`
}

// Pending is a registered followup waiting for its reply window to pass.
type Pending struct {
	ReminderID       string          `json:"reminder_id"`
	ItemID           string          `json:"item_id"`
	Type             Type            `json:"type"`
	Description      string          `json:"description"`
	Participants     []string        `json:"participants,omitempty"`
	Source           activity.Source `json:"source"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpectedResponse time.Time       `json:"expected_response"`
}

// StatusLookup reports whether a reminder still needs attention. The
// reminder manager implements it.
type StatusLookup interface {
	IsOpen(ctx context.Context, reminderID string) bool
}

// Config tunes the tracker.
type Config struct {
	Windows       map[Type]time.Duration
	MinConfidence float64
}

// DefaultConfig returns the stock reply windows.
func DefaultConfig() Config {
	w := make(map[Type]time.Duration, len(DefaultWindows))
	for k, v := range DefaultWindows {
		w[k] = v
	}
	return Config{Windows: w, MinConfidence: 0.6}
}

// Tracker owns the pending registry. All methods are safe for concurrent
// use; the registry mutex is held only while mutating.
type Tracker struct {
	cfg    Config
	guard  *enhance.Guard
	bus    bus.Publisher
	sched  *scheduler.Scheduler
	kv     store.KV
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]Pending
	status  StatusLookup

	persistMu sync.Mutex
}

// New creates a tracker. guard, kv and sched may be nil.
func New(cfg Config, guard *enhance.Guard, publisher bus.Publisher, sched *scheduler.Scheduler, kv store.KV, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Windows == nil {
		cfg.Windows = def.Windows
	}
	for k, v := range def.Windows {
		if cfg.Windows[k] <= 0 {
			cfg.Windows[k] = v
		}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	return &Tracker{
		cfg:     cfg,
		guard:   guard,
		bus:     publisher,
		sched:   sched,
		kv:      kv,
		logger:  logger,
		pending: make(map[string]Pending),
	}
}

// SetStatusLookup wires the reminder manager in after construction.
func (t *Tracker) SetStatusLookup(s StatusLookup) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Assess decides whether item needs a followup. Rules run first; the model
// is only consulted when no rule fires.
func (t *Tracker) Assess(ctx context.Context, item activity.ContentItem, tags activity.TagSet) Assessment {
	base := item.Timestamp
	if base.IsZero() {
		base = time.Now()
	}
	if typ, desc, ok := match(item, tags); ok {
		return Assessment{NeedsFollowup: true, Type: typ, Description: desc, Deadline: base.Add(t.cfg.Windows[typ])}
	}
	if !t.guard.Available() {
		return Assessment{}
	}

	var m modelAssessment
	err := t.guard.JSON(ctx, enhance.Prompt{
		Task:    enhance.TaskFollowup,
		System:  assessmentPrompt,
		Content: item.Content,
	}, &m)
	if err != nil {
		t.logger.Warn("followup assessment fell back to rules",
			zap.String("item.id", item.ID),
			zap.Error(err),
		)
		return Assessment{}
	}
	if !m.NeedsFollowup || !m.Type.Valid() || m.Confidence < t.cfg.MinConfidence {
		return Assessment{}
	}
	window := t.cfg.Windows[m.Type]
	if m.Hours > 0 && m.Hours <= 24*14 {
		window = time.Duration(m.Hours * float64(time.Hour))
	}
	desc := m.Description
	if desc == "" {
		desc = "Follow up: " + activity.Truncate(firstLine(item.Content), 80)
	}
	return Assessment{NeedsFollowup: true, Type: m.Type, Description: desc, Deadline: base.Add(window), ByModel: true}
}

// Process assesses item and, when a followup is owed, publishes
// action_required with a fresh reminder id and registers the pending entry
// under that id.
func (t *Tracker) Process(ctx context.Context, item activity.ContentItem, tags activity.TagSet) (*Pending, error) {
	a := t.Assess(ctx, item, tags)
	if !a.NeedsFollowup {
		return nil, nil
	}

	p := Pending{
		ReminderID:       uuid.New().String(),
		ItemID:           item.ID,
		Type:             a.Type,
		Description:      a.Description,
		Participants:     item.Source.People(),
		Source:           item.Source,
		CreatedAt:        item.Timestamp,
		ExpectedResponse: a.Deadline,
	}

	priority := activity.PriorityNormal
	if tags.HasAny(activity.TagUrgentAction, activity.TagImportant) || item.Priority > priority {
		priority = activity.PriorityHigh
	}
	if t.bus != nil {
		err := t.bus.Publish(ctx, bus.Message{
			Type: bus.TypeActionRequired,
			From: AgentName,
			Payload: bus.ActionPayload{
				ReminderID:   p.ReminderID,
				FollowupType: string(p.Type),
				Description:  p.Description,
				Deadline:     p.ExpectedResponse,
				Participants: p.Participants,
				SourceItemID: item.ID,
			},
			Priority: priority,
		})
		if err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	t.pending[p.ReminderID] = p
	t.mu.Unlock()
	t.arm(p)
	t.persist(ctx)

	t.logger.Info("followup registered",
		zap.String("item.id", item.ID),
		zap.String("reminder.id", p.ReminderID),
		zap.String("type", string(p.Type)),
		zap.Time("expected_response", p.ExpectedResponse),
	)
	return &p, nil
}

func (t *Tracker) arm(p Pending) {
	if t.sched == nil {
		return
	}
	id := p.ReminderID
	t.sched.Schedule(schedulerPrefix+id, p.ExpectedResponse, func(ctx context.Context, now time.Time) {
		t.expire(ctx, id, now)
	})
}

// Sweep escalates every pending followup whose reply window has passed at
// now and returns how many were escalated.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	var due []string
	for id, p := range t.pending {
		if !p.ExpectedResponse.After(now) {
			due = append(due, id)
		}
	}
	t.mu.Unlock()
	sort.Strings(due)

	escalated := 0
	for _, id := range due {
		if t.expire(ctx, id, now) {
			escalated++
		}
	}
	return escalated
}

// expire removes id from the registry and escalates it if its reminder is
// still open. It reports whether an escalation was published.
func (t *Tracker) expire(ctx context.Context, id string, now time.Time) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok || p.ExpectedResponse.After(now) {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, id)
	status := t.status
	t.mu.Unlock()

	if t.sched != nil {
		t.sched.Cancel(schedulerPrefix + id)
	}
	t.persist(ctx)

	if status != nil && !status.IsOpen(ctx, id) {
		t.logger.Debug("followup resolved before its window closed", zap.String("reminder.id", id))
		return false
	}
	if t.bus == nil {
		return false
	}
	err := t.bus.Publish(ctx, bus.Message{
		Type: bus.TypeUrgentNotification,
		From: AgentName,
		Payload: bus.ActionPayload{
			FollowupType:  string(p.Type),
			Description:   "No response yet: " + p.Description,
			Deadline:      now,
			Participants:  p.Participants,
			SourceItemID:  p.ItemID,
			EscalatedFrom: id,
			Reason:        "followup window elapsed",
		},
		Priority: activity.PriorityUrgent,
	})
	if err != nil {
		t.logger.Error("followup escalation failed", zap.String("reminder.id", id), zap.Error(err))
		return false
	}
	t.logger.Info("followup escalated", zap.String("reminder.id", id), zap.String("type", string(p.Type)))
	return true
}

// Pending returns the registry sorted by expected response time.
func (t *Tracker) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Pending {
	out := make([]Pending, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpectedResponse.Equal(out[j].ExpectedResponse) {
			return out[i].ReminderID < out[j].ReminderID
		}
		return out[i].ExpectedResponse.Before(out[j].ExpectedResponse)
	})
	return out
}

// persist writes the current registry. persistMu orders concurrent saves so
// the last write always carries the newest snapshot.
func (t *Tracker) persist(ctx context.Context) {
	if t.kv == nil {
		return
	}
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if err := store.SaveJSON(ctx, t.kv, store.KeyFollowups, t.Pending()); err != nil {
		t.logger.Error("failed to persist followups", zap.Error(err))
	}
}

// Load restores the registry from storage and re-arms every entry.
func (t *Tracker) Load(ctx context.Context) error {
	if t.kv == nil {
		return nil
	}
	var saved []Pending
	if _, err := store.LoadJSON(ctx, t.kv, store.KeyFollowups, &saved); err != nil {
		return err
	}
	t.mu.Lock()
	for _, p := range saved {
		t.pending[p.ReminderID] = p
	}
	t.mu.Unlock()
	for _, p := range saved {
		t.arm(p)
	}
	t.logger.Info("followups loaded", zap.Int("count", len(saved)))
	return nil
}
