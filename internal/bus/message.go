package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/nudged/internal/activity"
)

// MessageType names the topic a message is published on.
type MessageType string

const (
	TypeCommitmentDetected MessageType = "commitment_detected"
	TypeActionRequired     MessageType = "action_required"
	TypeContextUpdate      MessageType = "context_update"
	TypeUrgentNotification MessageType = "urgent_notification"
)

// MessageTypes lists every topic in publish-precedence order.
var MessageTypes = []MessageType{
	TypeCommitmentDetected,
	TypeActionRequired,
	TypeContextUpdate,
	TypeUrgentNotification,
}

// Valid reports whether t is a known topic.
func (t MessageType) Valid() bool {
	switch t {
	case TypeCommitmentDetected, TypeActionRequired, TypeContextUpdate, TypeUrgentNotification:
		return true
	}
	return false
}

// Message is one inter-component notification. To is empty for broadcasts.
type Message struct {
	ID        string            `json:"id"`
	Type      MessageType       `json:"type"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"`
	Payload   Payload           `json:"-"`
	Priority  activity.Priority `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
}

// PayloadKind discriminates the payload union on the wire.
type PayloadKind string

const (
	KindCommitment  PayloadKind = "commitment"
	KindAction      PayloadKind = "action"
	KindContext     PayloadKind = "context"
	KindText        PayloadKind = "text"
	KindSearchQuery PayloadKind = "search_query"
)

// Payload is the closed set of message bodies. Only the types in this
// package implement it.
type Payload interface {
	Kind() PayloadKind
	validate() error
}

// CommitmentPayload carries a detected promise.
type CommitmentPayload struct {
	Commitment activity.CommitmentInfo `json:"commitment"`
}

// ActionPayload asks for a reminder to be created, or escalated when
// EscalatedFrom names an earlier reminder.
type ActionPayload struct {
	ReminderID    string    `json:"reminder_id,omitempty"`
	FollowupType  string    `json:"followup_type,omitempty"`
	Description   string    `json:"description"`
	Deadline      time.Time `json:"deadline,omitempty"`
	Participants  []string  `json:"participants,omitempty"`
	SourceItemID  string    `json:"source_item_id,omitempty"`
	CommitmentID  string    `json:"commitment_id,omitempty"`
	EscalatedFrom string    `json:"escalated_from,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Related is one correlated item and its score.
type Related struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// ContextPayload reports that an item correlates with recent activity.
type ContextPayload struct {
	ItemID   string          `json:"item_id"`
	Content  string          `json:"content,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
	Related  []Related       `json:"related"`
	Tags     activity.TagSet `json:"tags,omitempty"`
}

// TextPayload is free text for directed agent messages.
type TextPayload struct {
	Text string `json:"text"`
}

// SearchQueryPayload asks an agent to look something up.
type SearchQueryPayload struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (CommitmentPayload) Kind() PayloadKind  { return KindCommitment }
func (ActionPayload) Kind() PayloadKind      { return KindAction }
func (ContextPayload) Kind() PayloadKind     { return KindContext }
func (TextPayload) Kind() PayloadKind        { return KindText }
func (SearchQueryPayload) Kind() PayloadKind { return KindSearchQuery }

func (p CommitmentPayload) validate() error {
	if p.Commitment.ID == "" {
		return fmt.Errorf("commitment id is required")
	}
	if p.Commitment.Description == "" {
		return fmt.Errorf("commitment description is required")
	}
	return nil
}

func (p ActionPayload) validate() error {
	if p.Description == "" {
		return fmt.Errorf("action description is required")
	}
	return nil
}

func (p ContextPayload) validate() error {
	if p.ItemID == "" {
		return fmt.Errorf("context item id is required")
	}
	if len(p.Related) == 0 {
		return fmt.Errorf("context update needs at least one related item")
	}
	return nil
}

func (p TextPayload) validate() error {
	if p.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

func (p SearchQueryPayload) validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

// allowedKinds maps each broadcast topic to the payloads it may carry.
var allowedKinds = map[MessageType][]PayloadKind{
	TypeCommitmentDetected: {KindCommitment},
	TypeActionRequired:     {KindAction},
	TypeContextUpdate:      {KindContext},
	TypeUrgentNotification: {KindAction, KindText},
}

// Validate checks the message envelope and its payload.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return invalid(m, "unknown message type")
	}
	if m.From == "" {
		return invalid(m, "sender is required")
	}
	if m.Payload == nil {
		return invalid(m, "payload is required")
	}
	// Directed messages may carry any payload; broadcasts are typed.
	if m.To == "" {
		ok := false
		for _, k := range allowedKinds[m.Type] {
			if m.Payload.Kind() == k {
				ok = true
				break
			}
		}
		if !ok {
			return invalid(m, fmt.Sprintf("payload %s not allowed on %s", m.Payload.Kind(), m.Type))
		}
	}
	if err := m.Payload.validate(); err != nil {
		return invalid(m, err.Error())
	}
	return nil
}

// EncodePayload renders a payload for the wire.
func EncodePayload(p Payload) (PayloadKind, json.RawMessage, error) {
	if p == nil {
		return "", nil, fmt.Errorf("nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), data, nil
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(kind PayloadKind, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindCommitment:
		var v CommitmentPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindAction:
		var v ActionPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindContext:
		var v ContextPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindText:
		var v TextPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindSearchQuery:
		var v SearchQueryPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %q", ErrInvalidMessage, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
