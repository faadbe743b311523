// Package commitment finds first-person promises in captured content and
// estimates when they are due.
package commitment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
)

// AgentName identifies the detector on the bus.
const AgentName = "commitment_detector"

const (
	ruleConfidence         = 0.7
	ruleConfidenceWithCue  = 0.8
	defaultModelConfidence = 0.6
)

const extractionPrompt = `You extract promises the author makes in their own words ("I'll send", "I will check", "let me get back to you").
Respond ONLY with a JSON object:
{"has_commitment": bool, "commitment_text": string, "recipient": string, "deadline": string, "urgency": 1-4, "confidence": 0.0-1.0}
"deadline" is either an RFC 3339 timestamp or a phrase such as "tomorrow", "today", "next week", "friday"; empty when unknown.`

type extraction struct {
	HasCommitment  bool    `json:"has_commitment"`
	CommitmentText string  `json:"commitment_text"`
	Recipient      string  `json:"recipient"`
	Deadline       string  `json:"deadline"`
	Urgency        int     `json:"urgency"`
	Confidence     float64 `json:"confidence"`
}

// Detector finds commitments. It is stateless and safe for concurrent use.
type Detector struct {
	guard  *enhance.Guard
	bus    bus.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the time used when an item carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a detector. guard and publisher may be nil.
func New(guard *enhance.Guard, publisher bus.Publisher, logger *zap.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{guard: guard, bus: publisher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the commitment in item, or nil. The model's extraction is
// preferred when the enhancement service answers; any failure falls back to
// the rule path.
func (d *Detector) Detect(ctx context.Context, item activity.ContentItem) *activity.CommitmentInfo {
	now := item.Timestamp
	if now.IsZero() {
		now = d.now()
	}

	if d.guard.Available() {
		var ex extraction
		err := d.guard.JSON(ctx, enhance.Prompt{
			Task:    enhance.TaskCommitment,
			System:  extractionPrompt,
			Content: item.Content,
		}, &ex)
		if err == nil {
			return d.fromModel(item, ex, now)
		}
		d.logger.Warn("commitment extraction fell back to rules",
			zap.String("item.id", item.ID),
			zap.Error(err),
		)
	}
	return d.fromRules(item, now)
}

func (d *Detector) fromRules(item activity.ContentItem, now time.Time) *activity.CommitmentInfo {
	var sentence string
	for _, s := range activity.SentencesWithPunctuation(item.Content) {
		if HasPhrase(s) {
			sentence = s
			break
		}
	}
	if sentence == "" {
		return nil
	}

	deadline, urgency, found := EstimateDeadline(sentence, now)
	if !found {
		deadline, urgency, found = EstimateDeadline(item.Content, now)
	}
	confidence := ruleConfidence
	if found {
		confidence = ruleConfidenceWithCue
	}

	return &activity.CommitmentInfo{
		ID:           uuid.New().String(),
		Description:  sentence,
		Participants: participants(recipientOf(sentence), item.Source),
		Deadline:     &deadline,
		Source:       item.Source,
		Confidence:   confidence,
		Urgency:      urgency,
		SourceItemID: item.ID,
	}
}

func (d *Detector) fromModel(item activity.ContentItem, ex extraction, now time.Time) *activity.CommitmentInfo {
	if !ex.HasCommitment || strings.TrimSpace(ex.CommitmentText) == "" {
		return nil
	}

	var deadline time.Time
	urgency := ex.Urgency
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ex.Deadline)); err == nil && t.After(now) {
		deadline = t
	} else {
		var cueUrgency int
		deadline, cueUrgency, _ = EstimateDeadline(ex.Deadline+" "+ex.CommitmentText, now)
		if urgency == 0 {
			urgency = cueUrgency
		}
	}
	if urgency < 1 {
		urgency = 1
	}
	if urgency > 4 {
		urgency = 4
	}
	confidence := ex.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = defaultModelConfidence
	}

	return &activity.CommitmentInfo{
		ID:           uuid.New().String(),
		Description:  strings.TrimSpace(ex.CommitmentText),
		Participants: participants(strings.TrimPrefix(strings.TrimSpace(ex.Recipient), "@"), item.Source),
		Deadline:     &deadline,
		Source:       item.Source,
		Confidence:   confidence,
		Urgency:      urgency,
		SourceItemID: item.ID,
	}
}

func participants(recipient string, src activity.Source) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, p)
	}
	add(recipient)
	for _, p := range src.People() {
		add(p)
	}
	return out
}

// Process detects a commitment and publishes it. At most one
// commitment_detected message is emitted per call.
func (d *Detector) Process(ctx context.Context, item activity.ContentItem) (*activity.CommitmentInfo, error) {
	info := d.Detect(ctx, item)
	if info == nil || d.bus == nil {
		return info, nil
	}
	priority := activity.PriorityFromUrgency(info.Urgency)
	if priority < activity.PriorityHigh {
		priority = activity.PriorityHigh
	}
	err := d.bus.Publish(ctx, bus.Message{
		Type:     bus.TypeCommitmentDetected,
		From:     AgentName,
		Payload:  bus.CommitmentPayload{Commitment: *info},
		Priority: priority,
	})
	if err != nil {
		return info, err
	}
	d.logger.Info("commitment detected",
		zap.String("item.id", item.ID),
		zap.String("commitment.id", info.ID),
		zap.Timep("deadline", info.Deadline),
		zap.Float64("confidence", info.Confidence),
	)
	return info, nil
}
