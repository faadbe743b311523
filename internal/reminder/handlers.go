package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
)

const followupCommitmentVerification = "commitment_verification"

// Subscribe wires the manager to the bus topics it consumes.
func (m *Manager) Subscribe(b *bus.Bus) error {
	handlers := []struct {
		t bus.MessageType
		h bus.Handler
	}{
		{bus.TypeCommitmentDetected, m.HandleCommitment},
		{bus.TypeActionRequired, m.HandleAction},
		{bus.TypeUrgentNotification, m.HandleUrgent},
		{bus.TypeContextUpdate, m.HandleContext},
	}
	for _, s := range handlers {
		if err := b.Subscribe(s.t, AgentName, s.h); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.t, err)
		}
	}
	return nil
}

func wrongPayload(msg bus.Message) error {
	return &bus.ValidationError{Type: msg.Type, From: msg.From, Reason: fmt.Sprintf("unexpected payload %T", msg.Payload)}
}

// HandleCommitment creates a commitment follow-up. Repeated deliveries of
// the same commitment are ignored. A verification follow-up already made
// for the same item is upgraded in place instead of duplicated.
func (m *Manager) HandleCommitment(ctx context.Context, msg bus.Message) error {
	p, ok := msg.Payload.(bus.CommitmentPayload)
	if !ok {
		return wrongPayload(msg)
	}
	c := p.Commitment
	priority := msg.Priority
	if priority < activity.PriorityHigh {
		priority = activity.PriorityHigh
	}
	scheduled := c.Deadline

	return m.do(ctx, func() error {
		if m.byCommitmentLocked(c.ID) != nil {
			return nil
		}
		if r := m.verificationForLocked(c.SourceItemID); r != nil {
			now := m.now()
			r.CommitmentID = c.ID
			r.Type = TypeCommitmentFollowUp
			r.Description = c.Description
			if priority > r.Priority {
				r.Priority = priority
			}
			if scheduled != nil {
				r.ScheduledTime = *scheduled
			}
			r.Participants = dedupe(append(r.Participants, c.Participants...))
			r.Metadata.Origin = bus.TypeCommitmentDetected
			r.ModifiedAt = &now
			m.armLocked(r)
			m.notifyLocked(ctx, r)
			m.persistLocked(ctx)
			m.logger.Info("verification reminder upgraded to commitment",
				zap.String("reminder.id", r.ID),
				zap.String("commitment.id", c.ID),
			)
			return nil
		}

		d := Draft{
			Description:  c.Description,
			Type:         TypeCommitmentFollowUp,
			Priority:     priority,
			Participants: c.Participants,
			CommitmentID: c.ID,
			SourceItemID: c.SourceItemID,
			Metadata:     Metadata{Origin: bus.TypeCommitmentDetected},
		}
		if scheduled != nil {
			d.ScheduledTime = *scheduled
		}
		if _, created, err := m.createLocked(ctx, d); err != nil {
			return err
		} else if created {
			m.persistLocked(ctx)
		}
		return nil
	})
}

// verificationForLocked finds an outstanding commitment-verification
// follow-up raised for itemID that has no commitment attached yet.
func (m *Manager) verificationForLocked(itemID string) *Reminder {
	if itemID == "" {
		return nil
	}
	for _, r := range m.reminders {
		if r.Outstanding() && r.CommitmentID == "" && r.SourceItemID == itemID &&
			r.Metadata.FollowupType == followupCommitmentVerification {
			return r
		}
	}
	return nil
}

func (m *Manager) commitmentForLocked(itemID string) *Reminder {
	if itemID == "" {
		return nil
	}
	for _, r := range m.reminders {
		if r.Outstanding() && r.CommitmentID != "" && r.SourceItemID == itemID {
			return r
		}
	}
	return nil
}

func typeForFollowup(followupType string) Type {
	switch followupType {
	case "action_item_check":
		return TypeActionItem
	case followupCommitmentVerification:
		return TypeCommitmentFollowUp
	default:
		return TypeFollowUp
	}
}

// HandleAction creates the follow-up reminder announced by the tracker,
// under the id the tracker assigned.
func (m *Manager) HandleAction(ctx context.Context, msg bus.Message) error {
	p, ok := msg.Payload.(bus.ActionPayload)
	if !ok {
		return wrongPayload(msg)
	}
	return m.do(ctx, func() error {
		if p.FollowupType == followupCommitmentVerification {
			if r := m.commitmentForLocked(p.SourceItemID); r != nil {
				if p.ReminderID != "" && p.ReminderID != r.ID {
					m.aliases[p.ReminderID] = r.ID
					r.Metadata.Aliases = append(r.Metadata.Aliases, p.ReminderID)
					m.persistLocked(ctx)
				}
				return nil
			}
		}
		_, created, err := m.createLocked(ctx, Draft{
			ID:            p.ReminderID,
			Description:   p.Description,
			Type:          typeForFollowup(p.FollowupType),
			Priority:      msg.Priority,
			ScheduledTime: p.Deadline,
			Participants:  p.Participants,
			CommitmentID:  p.CommitmentID,
			SourceItemID:  p.SourceItemID,
			Metadata: Metadata{
				Origin:       bus.TypeActionRequired,
				FollowupType: p.FollowupType,
				Reason:       p.Reason,
			},
		})
		if err != nil {
			return err
		}
		if created {
			m.persistLocked(ctx)
		}
		return nil
	})
}

// HandleUrgent creates an urgent reminder. When the message escalates an
// existing reminder that is still active, that reminder moves to escalated
// so the overdue sweep cannot escalate it a second time. A followup window
// closing before a commitment's own deadline does not escalate the
// commitment; its overdue check does that at deadline plus grace.
func (m *Manager) HandleUrgent(ctx context.Context, msg bus.Message) error {
	var (
		d  Draft
		at time.Time
	)
	switch p := msg.Payload.(type) {
	case bus.ActionPayload:
		at = p.Deadline
		d = Draft{
			ID:           p.ReminderID,
			Description:  p.Description,
			Participants: p.Participants,
			SourceItemID: p.SourceItemID,
			Metadata: Metadata{
				EscalatedFrom: p.EscalatedFrom,
				FollowupType:  p.FollowupType,
				Reason:        p.Reason,
			},
		}
	case bus.TextPayload:
		d = Draft{Description: p.Text}
	default:
		return wrongPayload(msg)
	}
	d.Type = TypeUrgent
	d.Priority = activity.PriorityUrgent
	d.Metadata.Origin = bus.TypeUrgentNotification

	return m.do(ctx, func() error {
		now := m.now()
		d.ScheduledTime = now
		if at.IsZero() {
			at = now
		}
		if from := d.Metadata.EscalatedFrom; from != "" {
			if src, ok := m.lookupLocked(from); ok {
				d.Metadata.EscalatedFrom = src.ID
				if m.escalationOfLocked(src.ID) != nil {
					return nil
				}
				if d.Metadata.FollowupType != "" && src.CommitmentID != "" && at.Before(src.ScheduledTime) {
					m.logger.Debug("followup window closed before commitment deadline",
						zap.String("reminder.id", src.ID),
						zap.String("alias", from),
						zap.Time("deadline", src.ScheduledTime),
					)
					return nil
				}
				if src.Status != StatusActive {
					m.logger.Debug("escalation skipped for inactive reminder", zap.String("reminder.id", src.ID))
					return nil
				}
				if err := m.transitionLocked(src, StatusEscalated, now); err != nil {
					return err
				}
				m.disarmLocked(ctx, src)
				m.metrics.Escalations.WithLabelValues("followup").Inc()
			}
		}
		_, _, err := m.createLocked(ctx, d)
		if err != nil {
			return err
		}
		m.persistLocked(ctx)
		return nil
	})
}

func (m *Manager) escalationOfLocked(id string) *Reminder {
	for _, r := range m.reminders {
		if r.Metadata.EscalatedFrom == id {
			return r
		}
	}
	return nil
}

// HandleContext re-checks fulfillment for reminders linked to the new item.
func (m *Manager) HandleContext(ctx context.Context, msg bus.Message) error {
	p, ok := msg.Payload.(bus.ContextPayload)
	if !ok {
		return wrongPayload(msg)
	}
	related := make(map[string]bool, len(p.Related))
	for _, rel := range p.Related {
		related[rel.ItemID] = true
	}
	item := correlation.ContextItem{
		ID:        p.ItemID,
		Content:   p.Content,
		Tags:      p.Tags,
		Timestamp: msg.Timestamp,
		Entities:  correlation.ExtractEntities(p.Content, activity.Source{}),
	}
	return m.do(ctx, func() error {
		if m.checkRelatedLocked(ctx, item, related) > 0 {
			m.persistLocked(ctx)
		}
		return nil
	})
}
