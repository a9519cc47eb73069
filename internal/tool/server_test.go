package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/meeting"
	"github.com/hal9000y/meeting-notify/internal/tool"
)

type meetingListerMock struct {
	MeetingsFunc func(ctx context.Context, userID string) ([]meeting.Meeting, error)
}

func (m *meetingListerMock) Meetings(ctx context.Context, userID string) ([]meeting.Meeting, error) {
	return m.MeetingsFunc(ctx, userID)
}

type senderMock struct {
	SendFunc func(ctx context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error)
}

func (m *senderMock) Send(ctx context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error) {
	return m.SendFunc(ctx, userID, meetingID, recipients, kind)
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ctx := context.Background()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func decodeText(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()

	require.NotEmpty(t, result.Content)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].(*mcp.TextContent).Text), v))
}

func TestListMeetings(t *testing.T) {
	lister := &meetingListerMock{
		MeetingsFunc: func(_ context.Context, userID string) ([]meeting.Meeting, error) {
			if userID != "owner" {
				return nil, fmt.Errorf("unexpected user %s", userID)
			}
			return []meeting.Meeting{
				{ID: "m1", Title: "Kickoff", Date: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), Mode: meeting.ModeOnline, Link: "https://meet.example.com/k"},
				{ID: "m2", Title: "Retro", Date: time.Date(2026, 5, 8, 9, 0, 0, 0, time.UTC), Mode: meeting.ModeOffline, Location: "Room 4"},
			}, nil
		},
	}

	session := connect(t, tool.NewServer(lister, &senderMock{}, "owner"))

	cases := []struct {
		req      tool.ListMeetingsRequest
		expected tool.ListMeetingsResponse
	}{
		{
			req: tool.ListMeetingsRequest{},
			expected: tool.ListMeetingsResponse{
				Total: 2,
				Meetings: []tool.MeetingSummary{
					{ID: "m1", Title: "Kickoff", Date: "2026-05-01T09:00:00Z", Mode: "online", Link: "https://meet.example.com/k"},
					{ID: "m2", Title: "Retro", Date: "2026-05-08T09:00:00Z", Mode: "offline", Location: "Room 4"},
				},
			},
		},
		{
			req: tool.ListMeetingsRequest{From: "2026-05-02"},
			expected: tool.ListMeetingsResponse{
				Total: 1,
				Meetings: []tool.MeetingSummary{
					{ID: "m2", Title: "Retro", Date: "2026-05-08T09:00:00Z", Mode: "offline", Location: "Room 4"},
				},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.req.From, func(t *testing.T) {
			result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
				Name:      "list_meetings",
				Arguments: tc.req,
			})
			require.NoError(t, err)
			require.False(t, result.IsError)

			var response tool.ListMeetingsResponse
			decodeText(t, result, &response)
			assert.Equal(t, tc.expected, response)
		})
	}
}

func TestSendMeetingEmail(t *testing.T) {
	var gotKind channel.Kind
	sender := &senderMock{
		SendFunc: func(_ context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error) {
			gotKind = kind
			switch meetingID {
			case "expired":
				return dispatch.Summary{}, fmt.Errorf("guard.EnsureValid failed: %w", dispatch.ErrAuthExpired)
			case "missing":
				return dispatch.Summary{}, errors.New("meeting not found")
			}

			return dispatch.Summary{
				ID:        "d1",
				Channel:   kind,
				Delivered: 1,
				Failed:    1,
				Results: []dispatch.Result{
					{Recipient: recipients[0], Outcome: channel.Delivered, ID: "gm-1"},
					{Recipient: recipients[1], Outcome: channel.Failed, Reason: channel.ReasonAuthExpired},
				},
				NeedsReconnect: true,
			}, nil
		},
	}

	session := connect(t, tool.NewServer(&meetingListerMock{}, sender, "owner"))

	t.Run("partial", func(t *testing.T) {
		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name: "send_meeting_email",
			Arguments: tool.SendMeetingEmailRequest{
				MeetingID:  "m1",
				Recipients: []string{"a@example.com", "b@example.com"},
			},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Equal(t, channel.Gmail, gotKind)

		var response tool.SendResponse
		decodeText(t, result, &response)
		assert.Equal(t, tool.SendResponse{
			DispatchID:     "d1",
			Message:        "Meeting sent to 1 of 2 recipients; reconnect your gmail account",
			TotalSent:      1,
			TotalFailed:    1,
			NeedsReconnect: true,
			Results: []tool.RecipientResult{
				{Recipient: "a@example.com", Outcome: "delivered", ID: "gm-1"},
				{Recipient: "b@example.com", Outcome: "failed", Reason: "auth_expired"},
			},
		}, response)
	})

	t.Run("smtp", func(t *testing.T) {
		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name: "send_meeting_email",
			Arguments: tool.SendMeetingEmailRequest{
				MeetingID:  "m1",
				Recipients: []string{"a@example.com", "b@example.com"},
				Channel:    "SMTP",
			},
		})
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Equal(t, channel.SMTP, gotKind)
	})

	errCases := []struct {
		name     string
		req      tool.SendMeetingEmailRequest
		expected string
	}{
		{name: "expired", req: tool.SendMeetingEmailRequest{MeetingID: "expired", Recipients: []string{"a@example.com"}}, expected: "reconnect Gmail"},
		{name: "missing", req: tool.SendMeetingEmailRequest{MeetingID: "missing", Recipients: []string{"a@example.com"}}, expected: "meeting not found"},
		{name: "channel", req: tool.SendMeetingEmailRequest{MeetingID: "m1", Recipients: []string{"a@example.com"}, Channel: "whatsapp"}, expected: "unsupported email channel"},
	}

	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
				Name:      "send_meeting_email",
				Arguments: tc.req,
			})
			require.NoError(t, err)
			require.True(t, result.IsError, "Result should indicate error")

			errorText := result.Content[0].(*mcp.TextContent).Text
			assert.Contains(t, errorText, tc.expected)
		})
	}
}

func TestShareMeetingWhatsApp(t *testing.T) {
	sender := &senderMock{
		SendFunc: func(_ context.Context, _, _ string, recipients []string, kind channel.Kind) (dispatch.Summary, error) {
			require.Equal(t, channel.WhatsApp, kind)

			sum := dispatch.Summary{ID: "d2", Channel: kind}
			for _, r := range recipients {
				sum.Linked++
				sum.Results = append(sum.Results, dispatch.Result{
					Recipient: r,
					Outcome:   channel.LinkGenerated,
					URL:       channel.Link(channel.NormalizePhone(r), "Meeting at 3pm"),
				})
			}
			return sum, nil
		},
	}

	session := connect(t, tool.NewServer(&meetingListerMock{}, sender, "owner"))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "share_meeting_whatsapp",
		Arguments: tool.ShareMeetingWhatsAppRequest{
			MeetingID:  "m1",
			Recipients: []string{"+1 (555) 123-4567", "555-987-6543"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var response tool.SendResponse
	decodeText(t, result, &response)
	assert.Equal(t, "WhatsApp links generated for 2 of 2 recipients", response.Message)
	assert.Equal(t, 2, response.TotalSent)
	require.Len(t, response.Results, 2)
	assert.Equal(t, "https://wa.me/15551234567?text=Meeting%20at%203pm", response.Results[0].URL)
	assert.Equal(t, "https://wa.me/5559876543?text=Meeting%20at%203pm", response.Results[1].URL)
}
