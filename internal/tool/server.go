package tool

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer creates an MCP server with meeting tools acting for userID.
func NewServer(meetings meetingLister, sender sender, userID string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "meeting-notify", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_meetings",
		Description: "List stored meetings with their IDs, dates and modes",
	}, NewListMeetings(meetings, userID).ListMeetings)

	send := NewSendMeeting(sender, userID)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_meeting_email",
		Description: "Email a meeting with its PDF document to recipients through the connected Gmail account or the configured SMTP server",
	}, send.SendMeetingEmail)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "share_meeting_whatsapp",
		Description: "Generate WhatsApp click-to-chat links sharing a meeting with phone numbers; nothing is sent until a link is opened",
	}, send.ShareMeetingWhatsApp)

	return server
}
