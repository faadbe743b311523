package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

// fakeDaemon answers a canned subset of the API and records what it saw.
type fakeDaemon struct {
	mu       sync.Mutex
	ingested pipeline.IngestRequest
	statuses []string
	snooze   httpapi.SnoozeRequest
	auth     string
}

func (f *fakeDaemon) handler() http.Handler {
	due := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	deck := reminder.Reminder{
		ID:            "r-1",
		Description:   "Send the deck to alice",
		Type:          reminder.TypeCommitmentFollowUp,
		Priority:      activity.PriorityHigh,
		ScheduledTime: due,
		Status:        reminder.StatusActive,
		Fulfillment:   reminder.FulfillmentUnknown,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, httpapi.HealthResponse{
			Status: "degraded",
			Checks: map[string]string{"nats": "ok", "postgres": "connection refused"},
		})
	})
	mux.HandleFunc("POST /api/v1/ingest", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&f.ingested)
		writeJSON(w, http.StatusAccepted, pipeline.Receipt{
			ItemID:       "item-1",
			Admitted:     true,
			Tags:         []string{"commitment", "email"},
			CommitmentID: "c-1",
			ThreadID:     "t-1",
		})
	})
	mux.HandleFunc("GET /api/v1/reminders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.statuses = r.URL.Query()["status"]
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, httpapi.RemindersResponse{Reminders: []reminder.Reminder{deck}, Count: 1})
	})
	mux.HandleFunc("GET /api/v1/reminders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != deck.ID {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "reminder not found"})
			return
		}
		writeJSON(w, http.StatusOK, deck)
	})
	mux.HandleFunc("POST /api/v1/reminders/{id}/snooze", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&f.snooze)
		f.mu.Unlock()
		snoozed := deck
		snoozed.Status = reminder.StatusSnoozed
		snoozed.SnoozeCount = 1
		writeJSON(w, http.StatusOK, snoozed)
	})
	mux.HandleFunc("POST /api/v1/reminders/{id}/dismiss", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "invalid reminder transition"})
	})
	mux.HandleFunc("POST /api/v1/reminders/{id}/check", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, httpapi.FulfillmentResponse{ReminderID: r.PathValue("id"), Fulfillment: reminder.FulfillmentFulfilled})
	})
	mux.HandleFunc("GET /api/v1/threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, httpapi.ThreadsResponse{})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T) (*fakeDaemon, string) {
	t.Helper()
	fake := &fakeDaemon{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, srv.URL
}

func runCLI(t *testing.T, server, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", server, "--no-color", "--timeout", "5s"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: degraded")
	assert.Contains(t, out, "postgres")
	assert.Contains(t, out, "connection refused")
}

func TestToken(t *testing.T) {
	fake, url := setup(t)
	_, err := runCLI(t, url, "", "--token", "abc", "health")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", fake.auth)

	t.Setenv("NUDGED_TOKEN", "from-env")
	_, err = runCLI(t, url, "", "health")
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-env", fake.auth)
}

func TestHealth_Unreachable(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "", "health")
	assert.Error(t, err)
}

func TestIngest_FromArgs(t *testing.T) {
	fake, url := setup(t)
	out, err := runCLI(t, url, "", "ingest",
		"--source", "email", "--sender", "bob@example.com", "--subject", "Q3",
		"--priority", "high",
		"I'll send you the numbers", "by Thursday")
	require.NoError(t, err)

	assert.Equal(t, "I'll send you the numbers by Thursday", fake.ingested.Content)
	assert.Equal(t, activity.SourceEmail, fake.ingested.Source.Kind)
	assert.Equal(t, "bob@example.com", fake.ingested.Source.Sender)
	assert.Equal(t, "high", fake.ingested.Priority)

	assert.Contains(t, out, "Admitted: item-1")
	assert.Contains(t, out, "Tags: commitment, email")
	assert.Contains(t, out, "Commitment: c-1")
	assert.Contains(t, out, "Thread: t-1")
}

func TestIngest_FromStdin(t *testing.T) {
	fake, url := setup(t)
	_, err := runCLI(t, url, "  meeting notes: alice will draft the plan\n", "ingest",
		"--source", "meeting", "--participant", "alice", "--participant", "bob", "-")
	require.NoError(t, err)
	assert.Equal(t, "meeting notes: alice will draft the plan", fake.ingested.Content)
	assert.Equal(t, []string{"alice", "bob"}, fake.ingested.Source.Participants)
}

func TestIngest_JSON(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "--json", "ingest", "hello there")
	require.NoError(t, err)

	var receipt pipeline.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt))
	assert.True(t, receipt.Admitted)
	assert.Equal(t, "c-1", receipt.CommitmentID)
}

func TestIngest_Errors(t *testing.T) {
	_, url := setup(t)

	_, err := runCLI(t, url, "", "ingest", "--source", "fax", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")

	_, err = runCLI(t, url, "   \n", "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestIngestFlags_Source(t *testing.T) {
	tests := []struct {
		flags ingestFlags
		want  activity.Source
	}{
		{ingestFlags{source: "clipboard"}, activity.ClipboardSource()},
		{ingestFlags{source: "screen_capture", app: "Slack"}, activity.ScreenCaptureSource("Slack")},
		{ingestFlags{source: "browser", url: "https://example.com", title: "Ex"}, activity.BrowserSource("https://example.com", "Ex")},
		{ingestFlags{source: "manual"}, activity.ManualSource()},
	}
	for _, tt := range tests {
		t.Run(tt.flags.source, func(t *testing.T) {
			got, err := tt.flags.Source()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemindersList(t *testing.T) {
	fake, url := setup(t)
	out, err := runCLI(t, url, "", "reminders", "list", "--status", "active", "--status", "snoozed")
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "snoozed"}, fake.statuses)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "r-1")
	assert.Contains(t, out, "Send the deck to alice")
	assert.Contains(t, out, "high")
}

func TestRemindersList_JSON(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "--json", "reminders", "list")
	require.NoError(t, err)

	var got []reminder.Reminder
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, activity.PriorityHigh, got[0].Priority)
}

func TestReminderSnooze(t *testing.T) {
	fake, url := setup(t)
	out, err := runCLI(t, url, "", "reminders", "snooze", "r-1", "--for", "2h")
	require.NoError(t, err)
	assert.Equal(t, "2h0m0s", fake.snooze.Duration)
	assert.Contains(t, out, "Status: snoozed")
	assert.Contains(t, out, "Snoozed: 1 time(s)")
}

func TestReminderGet(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "reminders", "get", "r-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Description: Send the deck to alice")
	assert.Contains(t, out, "Type: commitment_follow_up")

	_, err = runCLI(t, url, "", "reminders", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminder not found")
}

func TestReminderDismiss_Conflict(t *testing.T) {
	_, url := setup(t)
	_, err := runCLI(t, url, "", "reminders", "dismiss", "r-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dismiss reminder")

	var apiErr *httpapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestReminderCheck(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "reminders", "check", "r-1")
	require.NoError(t, err)
	assert.Contains(t, out, "r-1: fulfilled")
}

func TestReminderCreate_Validation(t *testing.T) {
	_, url := setup(t)

	_, err := runCLI(t, url, "", "reminders", "create", "--at", "2026-03-05T09:00:00Z", "--in", "1h", "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	_, err = runCLI(t, url, "", "reminders", "create", "--at", "tomorrow", "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")

	_, err = runCLI(t, url, "", "reminders", "create", "--type", "chore", "call")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reminder type")
}

func TestThreads_Empty(t *testing.T) {
	_, url := setup(t)
	out, err := runCLI(t, url, "", "threads")
	require.NoError(t, err)
	assert.Contains(t, out, "No threads found")
}

func TestWatch_RejectsInterval(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "", "watch", "--interval", "0s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--interval")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello w...", truncate("hello world!", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReplay(t *testing.T) {
	fake, url := setup(t)
	path := writeScenario(t, `{
		"name": "deck handoff",
		"items": [
			{"content": "I'll send you the deck by Friday", "source": {"kind": "email", "sender": "alice@example.com"}},
			{"content": "Here is the deck", "after": "1h", "source": {"kind": "email", "sender": "alice@example.com"}}
		]
	}`)

	out, err := runCLI(t, url, "", "replay", "--no-wait", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "[2/2]")
	assert.Contains(t, out, "2 sent, 2 admitted, 0 filtered, 2 commitment(s)")
	assert.Equal(t, "Here is the deck", fake.ingested.Content)

	out, err = runCLI(t, url, "", "--json", "replay", "--no-wait", path)
	require.NoError(t, err)
	var sum replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "deck handoff", sum.Scenario)
	assert.Equal(t, 2, sum.Sent)
	assert.Len(t, sum.Receipts, 2)
}

func TestReplay_BadScenario(t *testing.T) {
	_, url := setup(t)

	_, err := runCLI(t, url, "", "replay", writeScenario(t, `{"items": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items")

	_, err = runCLI(t, url, "", "replay", writeScenario(t, `{"items": [{"content": "x", "after": "soon"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid after")

	_, err = runCLI(t, url, "", "replay", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
