// Package meeting defines the meeting snapshot distributed by the service.
package meeting

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMeeting indicates a meeting is missing required data.
var ErrInvalidMeeting = errors.New("invalid meeting")

// Mode is how attendees join a meeting.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
	ModeHybrid  Mode = "hybrid"
)

// Label returns a human readable form of the mode.
func (m Mode) Label() string {
	switch m {
	case ModeOnline:
		return "Online"
	case ModeOffline:
		return "In person"
	case ModeHybrid:
		return "Hybrid"
	default:
		return string(m)
	}
}

// Meeting is a read-only snapshot of a meeting.
type Meeting struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location,omitempty"`
	Link        string    `json:"meetingLink,omitempty"`
	Mode        Mode      `json:"meetingMode"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the fields every renderer and message builder relies on.
func (m Meeting) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidMeeting)
	}
	if m.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidMeeting)
	}

	switch m.Mode {
	case ModeOnline, ModeOffline, ModeHybrid:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidMeeting, m.Mode)
	}

	return nil
}

type rawMeeting struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Link        string `json:"meetingLink"`
	Mode        string `json:"meetingMode"`
	Description string `json:"description"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// UnmarshalJSON accepts ISO-8601 dates with or without zone and seconds.
func (m *Meeting) UnmarshalJSON(data []byte) error {
	var raw rawMeeting
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %w", err)
	}

	date, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}

	*m = Meeting{
		ID:          raw.ID,
		Title:       raw.Title,
		Date:        date,
		Location:    raw.Location,
		Link:        raw.Link,
		Mode:        Mode(strings.ToLower(strings.TrimSpace(raw.Mode))),
		Description: raw.Description,
	}

	return nil
}

// ParseDate parses an ISO-8601 date. An empty value yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable date %q", ErrInvalidMeeting, s)
}
