package activity

import "fmt"

// Priority ranks content items and reminders.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses the textual form produced by String.
// "medium" is accepted as an alias for normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "medium", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent", "critical":
		return PriorityUrgent, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PriorityFromUrgency maps a 1-4 urgency score onto a Priority.
// Out-of-range values clamp to the nearest end.
func PriorityFromUrgency(urgency int) Priority {
	switch {
	case urgency <= 1:
		return PriorityLow
	case urgency == 2:
		return PriorityNormal
	case urgency == 3:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}
