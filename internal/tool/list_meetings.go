package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hal9000y/meeting-notify/internal/meeting"
)

type ListMeetingsRequest struct {
	From string `json:"from,omitempty" jsonschema:"only meetings on or after this ISO-8601 date"`
}

type ListMeetingsResponse struct {
	Meetings []MeetingSummary `json:"meetings" jsonschema:"meetings ordered by date"`
	Total    int              `json:"total" jsonschema:"number of meetings returned"`
}

// MeetingSummary is a meeting as shown to the model.
type MeetingSummary struct {
	ID       string `json:"id" jsonschema:"meeting ID"`
	Title    string `json:"title" jsonschema:"meeting title"`
	Date     string `json:"date" jsonschema:"RFC 3339 start time"`
	Mode     string `json:"mode" jsonschema:"online, offline or hybrid"`
	Location string `json:"location,omitempty" jsonschema:"where attendees meet"`
	Link     string `json:"link,omitempty" jsonschema:"join link"`
}

type meetingLister interface {
	Meetings(ctx context.Context, userID string) ([]meeting.Meeting, error)
}

func NewListMeetings(svc meetingLister, userID string) *ListMeetings {
	return &ListMeetings{
		svc:    svc,
		userID: userID,
	}
}

type ListMeetings struct {
	svc    meetingLister
	userID string
}

func (t *ListMeetings) ListMeetings(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListMeetingsRequest,
) (*mcp.CallToolResult, ListMeetingsResponse, error) {
	from, err := meeting.ParseDate(input.From)
	if err != nil {
		return nil, ListMeetingsResponse{}, err
	}

	ms, err := t.svc.Meetings(ctx, t.userID)
	if err != nil {
		return nil, ListMeetingsResponse{}, fmt.Errorf("svc.Meetings failed: %w", err)
	}

	out := make([]MeetingSummary, 0, len(ms))
	for _, m := range ms {
		if !from.IsZero() && m.Date.Before(from) {
			continue
		}
		out = append(out, MeetingSummary{
			ID:       m.ID,
			Title:    m.Title,
			Date:     m.Date.Format(time.RFC3339),
			Mode:     string(m.Mode),
			Location: m.Location,
			Link:     m.Link,
		})
	}

	return nil, ListMeetingsResponse{
		Meetings: out,
		Total:    len(out),
	}, nil
}
