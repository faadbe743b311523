package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/correlation"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

type ingestInput struct {
	Content      string   `json:"content" jsonschema:"The captured text to run through the pipeline"`
	Source       string   `json:"source,omitempty" jsonschema:"Where the text came from: clipboard, screen_capture, email, meeting, browser or manual (default manual)"`
	Sender       string   `json:"sender,omitempty" jsonschema:"Email sender"`
	Subject      string   `json:"subject,omitempty" jsonschema:"Email subject"`
	App          string   `json:"app,omitempty" jsonschema:"Foreground application for screen captures"`
	Participants []string `json:"participants,omitempty" jsonschema:"Meeting participants"`
	URL          string   `json:"url,omitempty" jsonschema:"Browser page URL"`
	Title        string   `json:"title,omitempty" jsonschema:"Browser page title"`
	Priority     string   `json:"priority,omitempty" jsonschema:"low, normal, high or urgent (default normal)"`
}

type ingestOutput struct {
	ItemID       string   `json:"item_id"`
	Admitted     bool     `json:"admitted"`
	Reason       string   `json:"reason,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	CommitmentID string   `json:"commitment_id,omitempty"`
	FollowupID   string   `json:"followup_id,omitempty"`
	ThreadID     string   `json:"thread_id,omitempty"`
	Urgent       bool     `json:"urgent"`
	Redacted     int      `json:"redacted"`
}

type reminderOutput struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Type          string   `json:"type"`
	Priority      string   `json:"priority"`
	Status        string   `json:"status"`
	ScheduledTime string   `json:"scheduled_time"`
	Participants  []string `json:"participants,omitempty"`
	SnoozeCount   int      `json:"snooze_count"`
	Fulfillment   string   `json:"fulfillment"`
}

type listRemindersInput struct {
	Status []string `json:"status,omitempty" jsonschema:"Only return reminders in these statuses: active, snoozed, completed, dismissed, escalated"`
}

type listRemindersOutput struct {
	Reminders []reminderOutput `json:"reminders"`
	Count     int              `json:"count"`
}

type reminderIDInput struct {
	ID string `json:"id" jsonschema:"Reminder ID"`
}

type createReminderInput struct {
	Description  string   `json:"description" jsonschema:"What to be reminded of"`
	Type         string   `json:"type,omitempty" jsonschema:"follow_up, commitment_follow_up, action_item, urgent, meeting or deadline (default follow_up)"`
	Priority     string   `json:"priority,omitempty" jsonschema:"low, normal, high or urgent (default normal)"`
	At           string   `json:"at,omitempty" jsonschema:"When to fire, RFC3339"`
	In           string   `json:"in,omitempty" jsonschema:"When to fire relative to now, as a Go duration such as 2h"`
	Participants []string `json:"participants,omitempty" jsonschema:"People involved"`
}

type snoozeInput struct {
	ID       string `json:"id" jsonschema:"Reminder ID"`
	Duration string `json:"duration,omitempty" jsonschema:"How long to snooze, as a Go duration such as 30m (default is the daemon setting)"`
}

type checkOutput struct {
	ReminderID  string `json:"reminder_id"`
	Fulfillment string `json:"fulfillment"`
}

type emptyInput struct{}

type statsOutput struct {
	ItemsProcessed    int64   `json:"items_processed"`
	ItemsPassed       int64   `json:"items_passed"`
	ItemsFiltered     int64   `json:"items_filtered"`
	FilterRate        float64 `json:"filter_rate"`
	ActiveReminders   int     `json:"active_reminders"`
	UrgentReminders   int     `json:"urgent_reminders"`
	OverdueReminders  int     `json:"overdue_reminders"`
	CompletedReminder int     `json:"completed_reminders"`
}

type threadOutput struct {
	ID            string   `json:"id"`
	Identifier    string   `json:"identifier,omitempty"`
	Platform      string   `json:"platform"`
	Participants  []string `json:"participants,omitempty"`
	Messages      int      `json:"messages"`
	CommitmentIDs []string `json:"commitment_ids,omitempty"`
	LastUpdated   string   `json:"last_updated"`
}

type listThreadsOutput struct {
	Threads []threadOutput `json:"threads"`
	Count   int            `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_activity",
		Description: "Submit captured text (an email, a meeting note, a chat line) to nudged. Returns whether it was admitted and any commitment, follow-up or thread it produced.",
	}, s.handleIngest)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_reminders",
		Description: "List reminders, soonest first, optionally filtered by status.",
	}, s.handleListReminders)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_reminder",
		Description: "Get one reminder by ID.",
	}, s.handleGetReminder)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_reminder",
		Description: "Create a reminder. Give either an absolute time (at) or a delay (in); with neither the daemon default delay applies.",
	}, s.handleCreateReminder)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "snooze_reminder",
		Description: "Push an active reminder back.",
	}, s.handleSnooze)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "complete_reminder",
		Description: "Mark a reminder done.",
	}, s.reminderAction("complete_reminder", Backend.Complete))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "dismiss_reminder",
		Description: "Dismiss a reminder without completing it.",
	}, s.reminderAction("dismiss_reminder", Backend.Dismiss))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "check_fulfillment",
		Description: "Check recent conversation history for evidence a reminder's commitment was already met.",
	}, s.handleCheck)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_stats",
		Description: "Intake counters and reminder totals.",
	}, s.handleStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_threads",
		Description: "List the conversation threads the correlator is tracking.",
	}, s.handleListThreads)
}

// track starts the invocation metrics for tool; call the result with the
// outcome.
func (s *Server) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, in ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	done := s.track(ctx, "ingest_activity")
	if strings.TrimSpace(in.Content) == "" {
		err := fmt.Errorf("invalid input: content is required")
		done(err)
		return errorResult(err.Error()), ingestOutput{}, nil
	}
	src, err := sourceFor(in)
	if err != nil {
		done(err)
		return errorResult(err.Error()), ingestOutput{}, nil
	}

	rec, err := s.backend.Ingest(ctx, pipeline.IngestRequest{
		Content:  in.Content,
		Source:   src,
		Priority: in.Priority,
	})
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("ingesting activity: %s", err)), ingestOutput{}, nil
	}

	out := ingestOutput{
		ItemID:       rec.ItemID,
		Admitted:     rec.Admitted,
		Reason:       rec.Reason,
		Tags:         rec.Tags,
		CommitmentID: rec.CommitmentID,
		FollowupID:   rec.FollowupID,
		ThreadID:     rec.ThreadID,
		Urgent:       rec.Urgent,
		Redacted:     rec.Redacted,
	}
	text := fmt.Sprintf("Admitted %s", out.ItemID)
	if !out.Admitted {
		text = fmt.Sprintf("Filtered: %s", out.Reason)
	} else if out.CommitmentID != "" {
		text += fmt.Sprintf(", commitment %s", out.CommitmentID)
	}
	return textResult(text), out, nil
}

func (s *Server) handleListReminders(ctx context.Context, _ *mcp.CallToolRequest, in listRemindersInput) (*mcp.CallToolResult, listRemindersOutput, error) {
	done := s.track(ctx, "list_reminders")
	statuses := make([]reminder.Status, 0, len(in.Status))
	for _, raw := range in.Status {
		st := reminder.Status(raw)
		if !st.Valid() {
			err := fmt.Errorf("invalid input: unknown status %q", raw)
			done(err)
			return errorResult(err.Error()), listRemindersOutput{Reminders: []reminderOutput{}}, nil
		}
		statuses = append(statuses, st)
	}

	list, err := s.backend.Reminders(ctx, statuses...)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("listing reminders: %s", err)), listRemindersOutput{Reminders: []reminderOutput{}}, nil
	}

	out := listRemindersOutput{
		Reminders: make([]reminderOutput, len(list)),
		Count:     len(list),
	}
	for i, r := range list {
		out.Reminders[i] = toReminderOutput(r)
	}
	return textResult(fmt.Sprintf("%d reminder(s)", out.Count)), out, nil
}

func (s *Server) handleGetReminder(ctx context.Context, _ *mcp.CallToolRequest, in reminderIDInput) (*mcp.CallToolResult, reminderOutput, error) {
	done := s.track(ctx, "get_reminder")
	if in.ID == "" {
		err := fmt.Errorf("invalid input: id is required")
		done(err)
		return errorResult(err.Error()), reminderOutput{}, nil
	}
	r, err := s.backend.Reminder(ctx, in.ID)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("getting reminder %s: %s", in.ID, err)), reminderOutput{}, nil
	}
	out := toReminderOutput(r)
	return textResult(summary(out)), out, nil
}

func (s *Server) handleCreateReminder(ctx context.Context, _ *mcp.CallToolRequest, in createReminderInput) (*mcp.CallToolResult, reminderOutput, error) {
	done := s.track(ctx, "create_reminder")
	req, err := s.createRequest(in)
	if err != nil {
		done(err)
		return errorResult(err.Error()), reminderOutput{}, nil
	}
	r, err := s.backend.CreateReminder(ctx, req)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("creating reminder: %s", err)), reminderOutput{}, nil
	}
	out := toReminderOutput(r)
	return textResult("Created " + summary(out)), out, nil
}

func (s *Server) createRequest(in createReminderInput) (httpapi.CreateReminderRequest, error) {
	req := httpapi.CreateReminderRequest{
		Description:  strings.TrimSpace(in.Description),
		Type:         in.Type,
		Priority:     in.Priority,
		Participants: in.Participants,
	}
	if req.Description == "" {
		return req, fmt.Errorf("invalid input: description is required")
	}
	switch {
	case in.At != "" && in.In != "":
		return req, fmt.Errorf("invalid input: at and in are mutually exclusive")
	case in.At != "":
		at, err := time.Parse(time.RFC3339, in.At)
		if err != nil {
			return req, fmt.Errorf("invalid input: at must be RFC3339: %w", err)
		}
		req.At = at
	case in.In != "":
		d, err := time.ParseDuration(in.In)
		if err != nil || d <= 0 {
			return req, fmt.Errorf("invalid input: in must be a positive duration such as 2h")
		}
		req.At = s.now().Add(d)
	}
	if _, err := req.Draft(); err != nil {
		return req, fmt.Errorf("invalid input: %w", err)
	}
	return req, nil
}

func (s *Server) handleSnooze(ctx context.Context, _ *mcp.CallToolRequest, in snoozeInput) (*mcp.CallToolResult, reminderOutput, error) {
	done := s.track(ctx, "snooze_reminder")
	if in.ID == "" {
		err := fmt.Errorf("invalid input: id is required")
		done(err)
		return errorResult(err.Error()), reminderOutput{}, nil
	}
	var d time.Duration
	if in.Duration != "" {
		var err error
		d, err = time.ParseDuration(in.Duration)
		if err != nil || d <= 0 {
			err = fmt.Errorf("invalid input: duration must be a positive duration such as 30m")
			done(err)
			return errorResult(err.Error()), reminderOutput{}, nil
		}
	}
	r, err := s.backend.Snooze(ctx, in.ID, d)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("snoozing reminder %s: %s", in.ID, err)), reminderOutput{}, nil
	}
	out := toReminderOutput(r)
	return textResult("Snoozed " + summary(out)), out, nil
}

type reminderActionFunc func(Backend, context.Context, string) (reminder.Reminder, error)

func (s *Server) reminderAction(tool string, action reminderActionFunc) mcp.ToolHandlerFor[reminderIDInput, reminderOutput] {
	verb := strings.TrimSuffix(tool, "_reminder")
	return func(ctx context.Context, _ *mcp.CallToolRequest, in reminderIDInput) (*mcp.CallToolResult, reminderOutput, error) {
		done := s.track(ctx, tool)
		if in.ID == "" {
			err := fmt.Errorf("invalid input: id is required")
			done(err)
			return errorResult(err.Error()), reminderOutput{}, nil
		}
		r, err := action(s.backend, ctx, in.ID)
		done(err)
		if err != nil {
			return errorResult(fmt.Sprintf("failed to %s reminder %s: %s", verb, in.ID, err)), reminderOutput{}, nil
		}
		out := toReminderOutput(r)
		return textResult(fmt.Sprintf("%s: %s", out.Status, summary(out))), out, nil
	}
}

func (s *Server) handleCheck(ctx context.Context, _ *mcp.CallToolRequest, in reminderIDInput) (*mcp.CallToolResult, checkOutput, error) {
	done := s.track(ctx, "check_fulfillment")
	if in.ID == "" {
		err := fmt.Errorf("invalid input: id is required")
		done(err)
		return errorResult(err.Error()), checkOutput{}, nil
	}
	f, err := s.backend.Check(ctx, in.ID)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("checking reminder %s: %s", in.ID, err)), checkOutput{}, nil
	}
	out := checkOutput{ReminderID: in.ID, Fulfillment: string(f)}
	return textResult(fmt.Sprintf("Reminder %s: %s", in.ID, f)), out, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, statsOutput, error) {
	done := s.track(ctx, "pipeline_stats")
	st, err := s.backend.Stats(ctx)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("fetching stats: %s", err)), statsOutput{}, nil
	}
	out := statsOutput{
		ItemsProcessed:    st.TotalItemsProcessed,
		ItemsPassed:       st.ItemsPassed,
		ItemsFiltered:     st.ItemsFiltered,
		FilterRate:        st.FilterRate,
		ActiveReminders:   st.ActiveTasks,
		UrgentReminders:   st.UrgentTasks,
		OverdueReminders:  st.OverdueTasks,
		CompletedReminder: st.CompletedTasks,
	}
	return textResult(fmt.Sprintf("%d items processed, %d open reminders (%d overdue)",
		out.ItemsProcessed, out.ActiveReminders, out.OverdueReminders)), out, nil
}

func (s *Server) handleListThreads(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, listThreadsOutput, error) {
	done := s.track(ctx, "list_threads")
	threads, err := s.backend.Threads(ctx)
	done(err)
	if err != nil {
		return errorResult(fmt.Sprintf("listing threads: %s", err)), listThreadsOutput{Threads: []threadOutput{}}, nil
	}
	out := listThreadsOutput{
		Threads: make([]threadOutput, len(threads)),
		Count:   len(threads),
	}
	for i, t := range threads {
		out.Threads[i] = toThreadOutput(t)
	}
	return textResult(fmt.Sprintf("%d thread(s)", out.Count)), out, nil
}

func sourceFor(in ingestInput) (activity.Source, error) {
	switch activity.SourceKind(in.Source) {
	case "", activity.SourceManual:
		return activity.ManualSource(), nil
	case activity.SourceClipboard:
		return activity.ClipboardSource(), nil
	case activity.SourceScreenCapture:
		return activity.ScreenCaptureSource(in.App), nil
	case activity.SourceEmail:
		return activity.EmailSource(in.Sender, in.Subject), nil
	case activity.SourceMeeting:
		return activity.MeetingSource(in.Participants...), nil
	case activity.SourceBrowser:
		return activity.BrowserSource(in.URL, in.Title), nil
	}
	return activity.Source{}, fmt.Errorf("invalid input: unknown source %q", in.Source)
}

func toReminderOutput(r reminder.Reminder) reminderOutput {
	return reminderOutput{
		ID:            r.ID,
		Description:   r.Description,
		Type:          string(r.Type),
		Priority:      r.Priority.String(),
		Status:        string(r.Status),
		ScheduledTime: r.ScheduledTime.UTC().Format(time.RFC3339),
		Participants:  r.Participants,
		SnoozeCount:   r.SnoozeCount,
		Fulfillment:   string(r.Fulfillment),
	}
}

func toThreadOutput(t correlation.Thread) threadOutput {
	return threadOutput{
		ID:            t.ID,
		Identifier:    t.Identifier,
		Platform:      t.Platform,
		Participants:  t.Participants,
		Messages:      len(t.Messages),
		CommitmentIDs: t.CommitmentIDs,
		LastUpdated:   t.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func summary(r reminderOutput) string {
	return fmt.Sprintf("%s %q due %s", r.ID, r.Description, r.ScheduledTime)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
