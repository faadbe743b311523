package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// ErrInvalidRequest wraps malformed ingest requests.
var ErrInvalidRequest = errors.New("invalid ingest request")

// IngestRequest is the wire form producers send over HTTP or NATS.
type IngestRequest struct {
	Content  string          `json:"content"`
	Source   activity.Source `json:"source"`
	Priority string          `json:"priority,omitempty"`
}

// Item validates the request and builds the content item stamped at.
func (r IngestRequest) Item(at time.Time) (activity.ContentItem, error) {
	priority, err := activity.ParsePriority(r.Priority)
	if err != nil {
		return activity.ContentItem{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	item := activity.NewContentItemAt(r.Content, r.Source, priority, at)
	if err := item.Validate(); err != nil {
		return activity.ContentItem{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return item, nil
}

// Receipt is the compact answer returned to producers.
type Receipt struct {
	ItemID       string   `json:"item_id,omitempty"`
	Admitted     bool     `json:"admitted"`
	Reason       string   `json:"reason,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	CommitmentID string   `json:"commitment_id,omitempty"`
	FollowupID   string   `json:"followup_id,omitempty"`
	ThreadID     string   `json:"thread_id,omitempty"`
	Urgent       bool     `json:"urgent,omitempty"`
	Redacted     int      `json:"redacted,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Receipt summarizes the outcome.
func (o Outcome) Receipt() Receipt {
	r := Receipt{
		ItemID:   o.Item.ID,
		Admitted: o.Decision.Admit,
		Reason:   o.Decision.Reason,
		Tags:     o.Tags.Strings(),
		Urgent:   o.Urgent,
		Redacted: o.Redacted,
	}
	if o.Commitment != nil {
		r.CommitmentID = o.Commitment.ID
	}
	if o.Followup != nil {
		r.FollowupID = o.Followup.ReminderID
	}
	if o.Correlation != nil {
		r.ThreadID = o.Correlation.ThreadID
	}
	return r
}

// HandleRequest processes one decoded request.
func (p *Pipeline) HandleRequest(ctx context.Context, req IngestRequest) (Outcome, error) {
	item, err := req.Item(p.now())
	if err != nil {
		return Outcome{}, err
	}
	return p.Process(ctx, item)
}

// Subscribe consumes JSON IngestRequests from subject. Requests sent with a
// reply inbox get a Receipt back.
func (p *Pipeline) Subscribe(nc *nats.Conn, subject string, timeout time.Duration) (*nats.Subscription, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var receipt Receipt
		var req IngestRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			receipt.Error = fmt.Sprintf("%v: %v", ErrInvalidRequest, err)
		} else {
			out, err := p.HandleRequest(ctx, req)
			receipt = out.Receipt()
			if err != nil {
				receipt.Error = err.Error()
			}
		}
		if receipt.Error != "" {
			p.logger.Warn("ingest over nats failed",
				zap.String("subject", msg.Subject),
				zap.String("error", receipt.Error),
			)
		}
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(receipt)
		if err != nil {
			p.logger.Error("failed to encode ingest receipt", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			p.logger.Warn("failed to answer ingest request", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	p.logger.Info("listening for activity over nats", zap.String("subject", subject))
	return sub, nil
}
