// Package reminder owns the reminder lifecycle: creation from bus events,
// snooze, dismissal, completion, fulfillment checks and overdue escalation.
package reminder

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
)

var (
	// ErrNotFound is returned for unknown reminder ids.
	ErrNotFound = errors.New("reminder not found")

	// ErrInvalidTransition is returned when the requested status change is
	// not allowed from the reminder's current status.
	ErrInvalidTransition = errors.New("invalid reminder transition")

	// ErrInvalidReminder is returned when a draft is missing required fields.
	ErrInvalidReminder = errors.New("invalid reminder")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("reminder manager closed")
)

// Type classifies a reminder.
type Type string

const (
	TypeFollowUp           Type = "follow_up"
	TypeCommitmentFollowUp Type = "commitment_follow_up"
	TypeActionItem         Type = "action_item"
	TypeUrgent             Type = "urgent"
	TypeMeeting            Type = "meeting"
	TypeDeadline           Type = "deadline"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeFollowUp, TypeCommitmentFollowUp, TypeActionItem, TypeUrgent, TypeMeeting, TypeDeadline:
		return true
	}
	return false
}

// Title is the notification headline for the type.
func (t Type) Title() string {
	switch t {
	case TypeCommitmentFollowUp:
		return "Commitment due"
	case TypeActionItem:
		return "Action item"
	case TypeUrgent:
		return "Urgent"
	case TypeMeeting:
		return "Meeting"
	case TypeDeadline:
		return "Deadline"
	default:
		return "Follow up"
	}
}

// Status is a reminder's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSnoozed   Status = "snoozed"
	StatusCompleted Status = "completed"
	StatusDismissed Status = "dismissed"
	StatusEscalated Status = "escalated"
)

// legal lists every allowed status change. Completed and dismissed are
// terminal; escalated reminders leave active tracking for good.
var legal = map[Status][]Status{
	StatusActive:  {StatusSnoozed, StatusCompleted, StatusDismissed, StatusEscalated},
	StatusSnoozed: {StatusActive, StatusCompleted, StatusDismissed},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSnoozed, StatusCompleted, StatusDismissed, StatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(legal[s]) == 0 }

// Fulfillment records what later activity says about the obligation.
type Fulfillment string

const (
	FulfillmentUnknown   Fulfillment = "unknown"
	FulfillmentNot       Fulfillment = "not_fulfilled"
	FulfillmentPartially Fulfillment = "partially_fulfilled"
	FulfillmentFulfilled Fulfillment = "fulfilled"
)

func (f Fulfillment) rank() int {
	switch f {
	case FulfillmentNot:
		return 1
	case FulfillmentPartially:
		return 2
	case FulfillmentFulfilled:
		return 3
	default:
		return 0
	}
}

// Advance returns the further along of f and next. Fulfillment never moves
// backward.
func (f Fulfillment) Advance(next Fulfillment) Fulfillment {
	if next.rank() > f.rank() {
		return next
	}
	if f == "" {
		return FulfillmentUnknown
	}
	return f
}

// Metadata is the typed provenance of a reminder.
type Metadata struct {
	Origin        bus.MessageType `json:"origin,omitempty"`
	EscalatedFrom string          `json:"escalated_from,omitempty"`
	FollowupType  string          `json:"followup_type,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Aliases       []string        `json:"aliases,omitempty"`
}

// Reminder is a time-bound obligation.
type Reminder struct {
	ID            string            `json:"id"`
	Description   string            `json:"description"`
	Type          Type              `json:"type"`
	Priority      activity.Priority `json:"priority"`
	ScheduledTime time.Time         `json:"scheduled_time"`
	CreatedAt     time.Time         `json:"created_at"`
	ModifiedAt    *time.Time        `json:"modified_at,omitempty"`
	Participants  []string          `json:"participants,omitempty"`
	CommitmentID  string            `json:"commitment_id,omitempty"`
	SourceItemID  string            `json:"source_item_id,omitempty"`
	Status        Status            `json:"status"`
	SnoozeCount   int               `json:"snooze_count"`
	Fulfillment   Fulfillment       `json:"fulfillment"`
	Metadata      Metadata          `json:"metadata"`
}

// Outstanding reports whether the reminder still waits on the user.
func (r Reminder) Outstanding() bool {
	return r.Status == StatusActive || r.Status == StatusSnoozed
}

// Draft describes a reminder to create. ID and ScheduledTime are optional.
type Draft struct {
	ID            string
	Description   string
	Type          Type
	Priority      activity.Priority
	ScheduledTime time.Time
	Participants  []string
	CommitmentID  string
	SourceItemID  string
	Metadata      Metadata
}

// Transition is one observed status change.
type Transition struct {
	ReminderID string    `json:"reminder_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}

// Stats summarizes the reminder set.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Snoozed   int `json:"snoozed"`
	Completed int `json:"completed"`
	Dismissed int `json:"dismissed"`
	Escalated int `json:"escalated"`
	Urgent    int `json:"urgent"`
	Overdue   int `json:"overdue"`
}

func clone(r *Reminder) Reminder {
	out := *r
	out.Participants = append([]string(nil), r.Participants...)
	out.Metadata.Aliases = append([]string(nil), r.Metadata.Aliases...)
	if r.ModifiedAt != nil {
		t := *r.ModifiedAt
		out.ModifiedAt = &t
	}
	return out
}
