package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
)

var completionWords = []string{
	"done", "completed", "complete", "sent", "resolved", "finished", "submitted",
	"delivered", "shipped", "fixed", "merged", "replied", "closed", "handled",
}

var completionPhrases = []string{"taken care of", "wrapped up", "all set"}

var partialPhrases = []string{
	"working on", "in progress", "started", "almost", "partially", "halfway",
	"drafted", "first draft", "wip", "nearly",
}

var negations = []string{
	"not done", "not yet", "haven't", "hasn't", "have not", "has not", "still need",
	"didn't", "did not", "isn't", "not finished", "not sent",
}

// verdict classifies a single piece of evidence.
func verdict(content string) Fulfillment {
	lower := strings.ToLower(content)
	negated := activity.ContainsAny(lower, negations)
	if !negated && (activity.ContainsWord(lower, completionWords) || activity.ContainsAny(lower, completionPhrases)) {
		return FulfillmentFulfilled
	}
	if activity.ContainsAny(lower, partialPhrases) {
		return FulfillmentPartially
	}
	return FulfillmentNot
}

// relevant reports whether item speaks about r: it involves one of r's
// participants or its wording overlaps r's description.
func (m *Manager) relevant(r *Reminder, item correlation.ContextItem) bool {
	if item.ID != "" && item.ID == r.SourceItemID {
		return false
	}
	people := make(map[string]bool)
	for _, p := range item.Source.People() {
		people[strings.ToLower(p)] = true
	}
	for _, p := range r.Participants {
		p = strings.ToLower(p)
		if _, ok := item.Entities[p]; ok || people[p] {
			return true
		}
		if _, ok := item.Entities["@"+strings.TrimPrefix(p, "@")]; ok {
			return true
		}
	}
	return correlation.Jaccard(r.Description, item.Content) >= m.cfg.RelevanceThreshold
}

// assessLocked folds the evidence into r's fulfillment and auto-completes
// r when fulfilled. The item with id linked is already known to relate to
// r. It reports whether r changed.
func (m *Manager) assessLocked(ctx context.Context, r *Reminder, evidence []correlation.ContextItem, linked string, now time.Time) bool {
	found := FulfillmentNot
	for _, item := range evidence {
		if !item.Timestamp.After(r.CreatedAt) {
			continue
		}
		if (linked == "" || item.ID != linked) && !m.relevant(r, item) {
			continue
		}
		v := verdict(item.Content)
		found = found.Advance(v)
		if v == FulfillmentFulfilled {
			break
		}
	}

	next := r.Fulfillment.Advance(found)
	if next == r.Fulfillment {
		return false
	}
	r.Fulfillment = next
	r.ModifiedAt = &now
	m.metrics.Fulfillment.WithLabelValues(string(next)).Inc()
	if next == FulfillmentFulfilled && r.Outstanding() {
		if err := m.transitionLocked(r, StatusCompleted, now); err == nil {
			m.disarmLocked(ctx, r)
			m.logger.Info("reminder fulfilled", zap.String("reminder.id", r.ID))
		}
	}
	return true
}

func (m *Manager) evidenceLocked(since time.Time) []correlation.ContextItem {
	if m.history == nil {
		return nil
	}
	return m.history.Since(since)
}

// CheckFulfillment looks through activity recorded after the reminder was
// created for signs the obligation was met. A fulfilled reminder is
// completed and its notification cancelled.
func (m *Manager) CheckFulfillment(ctx context.Context, id string) (Fulfillment, error) {
	var out Fulfillment
	err := m.do(ctx, func() error {
		r, ok := m.lookupLocked(id)
		if !ok {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if r.Outstanding() && m.assessLocked(ctx, r, m.evidenceLocked(r.CreatedAt), "", m.now()) {
			m.persistLocked(ctx)
		}
		out = r.Fulfillment
		return nil
	})
	return out, err
}

// checkRelatedLocked runs fulfillment checks for outstanding reminders the
// new item is linked to, either through the correlator's matches or
// directly by content.
func (m *Manager) checkRelatedLocked(ctx context.Context, item correlation.ContextItem, related map[string]bool) int {
	now := m.now()
	changed := 0
	for _, r := range m.listPtrsLocked() {
		if !r.Outstanding() {
			continue
		}
		linked := ""
		if related[r.SourceItemID] {
			linked = item.ID
		} else if !m.relevant(r, item) {
			continue
		}
		evidence := m.evidenceLocked(r.CreatedAt)
		if !containsItem(evidence, item.ID) {
			evidence = append(evidence, item)
		}
		if m.assessLocked(ctx, r, evidence, linked, now) {
			changed++
		}
	}
	return changed
}

func containsItem(items []correlation.ContextItem, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}
