package http

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/admission"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	pipeline.Stats
	Admission admission.Stats `json:"admission"`
}

// AgentsResponse is the response body for GET /api/v1/agents.
type AgentsResponse struct {
	Agents []pipeline.AgentStatus `json:"agents"`
}

// RemindersResponse is the response body for GET /api/v1/reminders.
type RemindersResponse struct {
	Reminders []reminder.Reminder `json:"reminders"`
	Count     int                 `json:"count"`
}

// CreateReminderRequest is the request body for POST /api/v1/reminders.
type CreateReminderRequest struct {
	Description  string    `json:"description"`
	Type         string    `json:"type,omitempty"`
	Priority     string    `json:"priority,omitempty"`
	At           time.Time `json:"at,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

// Draft converts the request; type defaults to follow_up.
func (r CreateReminderRequest) Draft() (reminder.Draft, error) {
	typ := reminder.TypeFollowUp
	if r.Type != "" {
		typ = reminder.Type(r.Type)
		if !typ.Valid() {
			return reminder.Draft{}, fmt.Errorf("unknown reminder type %q", r.Type)
		}
	}
	priority, err := activity.ParsePriority(r.Priority)
	if err != nil {
		return reminder.Draft{}, err
	}
	return reminder.Draft{
		Description:   r.Description,
		Type:          typ,
		Priority:      priority,
		ScheduledTime: r.At,
		Participants:  r.Participants,
	}, nil
}

// SnoozeRequest is the optional body for POST /api/v1/reminders/:id/snooze.
type SnoozeRequest struct {
	Duration string `json:"duration,omitempty"`
}

// FulfillmentResponse is the response body for POST /api/v1/reminders/:id/check.
type FulfillmentResponse struct {
	ReminderID  string               `json:"reminder_id"`
	Fulfillment reminder.Fulfillment `json:"fulfillment"`
}

// ThreadsResponse is the response body for GET /api/v1/threads.
type ThreadsResponse struct {
	Threads []correlation.Thread `json:"threads"`
	Count   int                  `json:"count"`
}
