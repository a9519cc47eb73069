package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
)

type SendMeetingEmailRequest struct {
	MeetingID  string   `json:"meeting_id" jsonschema:"ID of the meeting to send"`
	Recipients []string `json:"recipients" jsonschema:"email addresses"`
	Channel    string   `json:"channel,omitempty" jsonschema:"gmail (default) or smtp"`
}

type ShareMeetingWhatsAppRequest struct {
	MeetingID  string   `json:"meeting_id" jsonschema:"ID of the meeting to share"`
	Recipients []string `json:"recipients" jsonschema:"phone numbers in international format"`
}

type sender interface {
	Send(ctx context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error)
}

func NewSendMeeting(svc sender, userID string) *SendMeeting {
	return &SendMeeting{
		svc:    svc,
		userID: userID,
	}
}

type SendMeeting struct {
	svc    sender
	userID string
}

func (t *SendMeeting) SendMeetingEmail(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SendMeetingEmailRequest,
) (*mcp.CallToolResult, SendResponse, error) {
	kind := channel.Gmail
	if input.Channel != "" {
		k, ok := channel.ParseKind(input.Channel)
		if !ok || k == channel.WhatsApp {
			return nil, SendResponse{}, fmt.Errorf("unsupported email channel %q, use gmail or smtp", input.Channel)
		}
		kind = k
	}

	return t.send(ctx, input.MeetingID, input.Recipients, kind)
}

func (t *SendMeeting) ShareMeetingWhatsApp(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ShareMeetingWhatsAppRequest,
) (*mcp.CallToolResult, SendResponse, error) {
	return t.send(ctx, input.MeetingID, input.Recipients, channel.WhatsApp)
}

func (t *SendMeeting) send(ctx context.Context, meetingID string, recipients []string, kind channel.Kind) (*mcp.CallToolResult, SendResponse, error) {
	sum, err := t.svc.Send(ctx, t.userID, meetingID, recipients, kind)
	if err != nil && sum.ID == "" {
		if errors.Is(err, dispatch.ErrAuthExpired) {
			return nil, SendResponse{}, fmt.Errorf("%w: ask the user to reconnect Gmail at /oauth/connect", err)
		}
		return nil, SendResponse{}, fmt.Errorf("svc.Send failed: %w", err)
	}

	return nil, newSendResponse(sum), nil
}
