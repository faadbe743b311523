package activity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyContent is returned when a producer hands over blank content.
var ErrEmptyContent = errors.New("content is required")

// ContentItem is one captured snippet of activity. It is never modified
// after construction.
type ContentItem struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Priority  Priority  `json:"priority"`
}

// NewContentItem stamps content with a fresh id and the current time.
func NewContentItem(content string, source Source, priority Priority) ContentItem {
	return NewContentItemAt(content, source, priority, time.Now())
}

// NewContentItemAt is NewContentItem with an explicit timestamp.
func NewContentItemAt(content string, source Source, priority Priority, at time.Time) ContentItem {
	return ContentItem{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    source,
		Timestamp: at,
		Priority:  priority,
	}
}

// Validate rejects items that no stage can work with.
func (c ContentItem) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	return c.Source.Validate()
}

// Lower returns the lower-cased content, the form every rule matches against.
func (c ContentItem) Lower() string {
	return strings.ToLower(c.Content)
}

// CommitmentInfo describes a first-person promise found in a content item.
// It is produced by the commitment detector and read-only afterwards.
type CommitmentInfo struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Participants []string   `json:"participants,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Source       Source     `json:"source"`
	Confidence   float64    `json:"confidence"`
	Urgency      int        `json:"urgency,omitempty"`
	SourceItemID string     `json:"source_item_id"`
}
