package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/nudged/internal/correlation"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the nudged REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithToken sends token as a bearer credential on every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Ingest submits one item.
func (c *Client) Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.Receipt, error) {
	var out pipeline.Receipt
	err := c.do(ctx, http.MethodPost, "/api/v1/ingest", req, &out)
	return out, err
}

// Stats fetches pipeline and admission counters.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var out StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out)
	return out, err
}

// Agents fetches per-stage activity.
func (c *Client) Agents(ctx context.Context) ([]pipeline.AgentStatus, error) {
	var out AgentsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/agents", nil, &out)
	return out.Agents, err
}

// Reminders lists reminders, optionally filtered by status.
func (c *Client) Reminders(ctx context.Context, statuses ...reminder.Status) ([]reminder.Reminder, error) {
	path := "/api/v1/reminders"
	if len(statuses) > 0 {
		q := url.Values{}
		for _, s := range statuses {
			q.Add("status", string(s))
		}
		path += "?" + q.Encode()
	}
	var out RemindersResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Reminders, err
}

// Reminder fetches one reminder.
func (c *Client) Reminder(ctx context.Context, id string) (reminder.Reminder, error) {
	var out reminder.Reminder
	err := c.do(ctx, http.MethodGet, "/api/v1/reminders/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateReminder adds a manual reminder.
func (c *Client) CreateReminder(ctx context.Context, req CreateReminderRequest) (reminder.Reminder, error) {
	var out reminder.Reminder
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders", req, &out)
	return out, err
}

// Snooze pushes a reminder back by d; zero uses the server default.
func (c *Client) Snooze(ctx context.Context, id string, d time.Duration) (reminder.Reminder, error) {
	var req SnoozeRequest
	if d > 0 {
		req.Duration = d.String()
	}
	var out reminder.Reminder
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+url.PathEscape(id)+"/snooze", req, &out)
	return out, err
}

// Dismiss ends a reminder.
func (c *Client) Dismiss(ctx context.Context, id string) (reminder.Reminder, error) {
	var out reminder.Reminder
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+url.PathEscape(id)+"/dismiss", nil, &out)
	return out, err
}

// Complete marks a reminder done.
func (c *Client) Complete(ctx context.Context, id string) (reminder.Reminder, error) {
	var out reminder.Reminder
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+url.PathEscape(id)+"/complete", nil, &out)
	return out, err
}

// Check asks the server to look for fulfillment evidence.
func (c *Client) Check(ctx context.Context, id string) (reminder.Fulfillment, error) {
	var out FulfillmentResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/reminders/"+url.PathEscape(id)+"/check", nil, &out)
	return out.Fulfillment, err
}

// Threads lists conversation threads, most recent first.
func (c *Client) Threads(ctx context.Context) ([]correlation.Thread, error) {
	var out ThreadsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/threads", nil, &out)
	return out.Threads, err
}

// Thread fetches one thread.
func (c *Client) Thread(ctx context.Context, id string) (correlation.Thread, error) {
	var out correlation.Thread
	err := c.do(ctx, http.MethodGet, "/api/v1/threads/"+url.PathEscape(id), nil, &out)
	return out, err
}
