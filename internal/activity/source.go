package activity

import (
	"fmt"
	"net/url"
	"strings"
)

// SourceKind identifies where a content item was captured.
type SourceKind string

const (
	SourceClipboard     SourceKind = "clipboard"
	SourceScreenCapture SourceKind = "screen_capture"
	SourceEmail         SourceKind = "email"
	SourceMeeting       SourceKind = "meeting"
	SourceBrowser       SourceKind = "browser"
	SourceManual        SourceKind = "manual"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceClipboard, SourceScreenCapture, SourceEmail, SourceMeeting, SourceBrowser, SourceManual:
		return true
	}
	return false
}

// Source describes the producer of a content item. Only the fields relevant
// to Kind are populated; use the constructors rather than literals.
type Source struct {
	Kind SourceKind `json:"kind"`

	// App is the foreground application for screen captures.
	App string `json:"app,omitempty"`

	// Sender and Subject are optional email headers.
	Sender  string `json:"sender,omitempty"`
	Subject string `json:"subject,omitempty"`

	// Participants lists meeting attendees.
	Participants []string `json:"participants,omitempty"`

	// URL and Title describe a browser page.
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ClipboardSource returns a clipboard source.
func ClipboardSource() Source { return Source{Kind: SourceClipboard} }

// ScreenCaptureSource returns a screen-capture source for the named app.
func ScreenCaptureSource(app string) Source {
	return Source{Kind: SourceScreenCapture, App: strings.TrimSpace(app)}
}

// EmailSource returns an email source. Both fields may be empty.
func EmailSource(sender, subject string) Source {
	return Source{Kind: SourceEmail, Sender: strings.TrimSpace(sender), Subject: strings.TrimSpace(subject)}
}

// MeetingSource returns a meeting transcript source.
func MeetingSource(participants ...string) Source {
	cleaned := make([]string, 0, len(participants))
	for _, p := range participants {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return Source{Kind: SourceMeeting, Participants: cleaned}
}

// BrowserSource returns a browser page source. Title may be empty.
func BrowserSource(rawURL, title string) Source {
	return Source{Kind: SourceBrowser, URL: strings.TrimSpace(rawURL), Title: strings.TrimSpace(title)}
}

// ManualSource returns a source for notes typed in by the user.
func ManualSource() Source { return Source{Kind: SourceManual} }

// Validate checks that the fields required by Kind are present.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceClipboard, SourceManual, SourceEmail, SourceMeeting:
		return nil
	case SourceScreenCapture:
		if s.App == "" {
			return fmt.Errorf("screen_capture source requires an app name")
		}
		return nil
	case SourceBrowser:
		if s.URL == "" {
			return fmt.Errorf("browser source requires a url")
		}
		if _, err := url.Parse(s.URL); err != nil {
			return fmt.Errorf("browser source url: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
}

// Platform returns a stable name for the place the item came from. Screen
// captures report the capturing app, browser items the page host.
func (s Source) Platform() string {
	switch s.Kind {
	case SourceScreenCapture:
		return strings.ToLower(s.App)
	case SourceBrowser:
		if u, err := url.Parse(s.URL); err == nil && u.Host != "" {
			return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
		}
		return string(SourceBrowser)
	default:
		return string(s.Kind)
	}
}

// People returns the people named by the source itself: the email sender
// or the meeting participants.
func (s Source) People() []string {
	switch s.Kind {
	case SourceEmail:
		if s.Sender != "" {
			return []string{s.Sender}
		}
	case SourceMeeting:
		out := make([]string, len(s.Participants))
		copy(out, s.Participants)
		return out
	}
	return nil
}

// String renders the source for logs.
func (s Source) String() string {
	switch s.Kind {
	case SourceScreenCapture:
		return "screen_capture(" + s.App + ")"
	case SourceEmail:
		return "email(" + s.Sender + ")"
	case SourceMeeting:
		return fmt.Sprintf("meeting(%d participants)", len(s.Participants))
	case SourceBrowser:
		return "browser(" + s.URL + ")"
	default:
		return string(s.Kind)
	}
}
