package activity

import (
	"encoding/json"
	"sort"
)

// Tag is a semantic label from the fixed classification vocabulary.
type Tag string

const (
	TagCommitment       Tag = "commitment"
	TagFollowupRequired Tag = "followup_required"
	TagUrgentAction     Tag = "urgent_action"
	TagReminder         Tag = "reminder"
	TagActionItem       Tag = "action_item"
	TagMeetingNotes     Tag = "meeting_notes"
	TagEmailThread      Tag = "email_thread"
	TagCodeSnippet      Tag = "code_snippet"
	TagURLLink          Tag = "url_link"
	TagContactInfo      Tag = "contact_info"
	TagDeadline         Tag = "deadline"
	TagQuestion         Tag = "question"
	TagImportant        Tag = "important"
	TagCommunication    Tag = "communication"
	TagTask             Tag = "task"
)

// AllTags lists the complete vocabulary.
var AllTags = []Tag{
	TagCommitment, TagFollowupRequired, TagUrgentAction, TagReminder,
	TagActionItem, TagMeetingNotes, TagEmailThread, TagCodeSnippet,
	TagURLLink, TagContactInfo, TagDeadline, TagQuestion,
	TagImportant, TagCommunication, TagTask,
}

var knownTags = func() map[Tag]bool {
	m := make(map[Tag]bool, len(AllTags))
	for _, t := range AllTags {
		m[t] = true
	}
	return m
}()

// Valid reports whether t belongs to the vocabulary.
func (t Tag) Valid() bool { return knownTags[t] }

// HighImportance reports whether t marks a correlation as worth surfacing.
func (t Tag) HighImportance() bool {
	switch t {
	case TagUrgentAction, TagCommitment, TagDeadline, TagImportant:
		return true
	}
	return false
}

// TagSet is an unordered, duplicate-free collection of tags.
type TagSet map[Tag]struct{}

// NewTagSet builds a set from tags, ignoring values outside the vocabulary.
func NewTagSet(tags ...Tag) TagSet {
	s := make(TagSet, len(tags))
	s.Add(tags...)
	return s
}

// Add inserts tags that belong to the vocabulary.
func (s TagSet) Add(tags ...Tag) {
	for _, t := range tags {
		if t.Valid() {
			s[t] = struct{}{}
		}
	}
}

// Has reports membership.
func (s TagSet) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}

// HasAny reports whether any of tags is present.
func (s TagSet) HasAny(tags ...Tag) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Merge adds every tag of other into s.
func (s TagSet) Merge(other TagSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// Shared counts tags present in both sets.
func (s TagSet) Shared(other TagSet) int {
	n := 0
	for t := range s {
		if other.Has(t) {
			n++
		}
	}
	return n
}

// Equal reports whether both sets hold the same tags.
func (s TagSet) Equal(other TagSet) bool {
	return len(s) == len(other) && s.Shared(other) == len(s)
}

// Clone returns an independent copy.
func (s TagSet) Clone() TagSet {
	out := make(TagSet, len(s))
	out.Merge(s)
	return out
}

// Sorted returns the tags in lexical order, for stable output.
func (s TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted tags as plain strings.
func (s TagSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = string(t)
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array, dropping unknown tags.
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var raw []Tag
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewTagSet(raw...)
	return nil
}
