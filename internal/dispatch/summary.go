package dispatch

import (
	"fmt"
	"time"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
)

// Result is the outcome for one recipient.
type Result struct {
	Recipient string          `json:"recipient"`
	Outcome   channel.Outcome `json:"outcome"`
	ID        string          `json:"id,omitempty"`
	URL       string          `json:"url,omitempty"`
	Reason    channel.Reason  `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Summary aggregates one dispatch. Delivered+Linked+Failed always equals the
// number of recipients and Results follow the input order.
type Summary struct {
	ID         string       `json:"id"`
	MeetingID  string       `json:"meeting_id"`
	Channel    channel.Kind `json:"channel"`
	Delivered  int          `json:"delivered"`
	Linked     int          `json:"linked"`
	Failed     int          `json:"failed"`
	Results    []Result     `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`

	// NeedsReconnect is set when a send failed because the provider refused
	// the user's credentials.
	NeedsReconnect bool `json:"needs_reconnect,omitempty"`

	// Refreshed is the Gmail credential obtained before sending, when a
	// refresh happened. The caller must persist it.
	Refreshed *auth.GmailCredential `json:"-"`
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case channel.Delivered:
		s.Delivered++
	case channel.LinkGenerated:
		s.Linked++
	default:
		s.Failed++
	}

	if r.Reason == channel.ReasonAuthExpired || r.Reason == channel.ReasonAuthFailed {
		s.NeedsReconnect = true
	}

	s.Results = append(s.Results, r)
}

func (s Summary) result() string {
	switch {
	case s.Failed == 0:
		return "ok"
	case s.Failed == len(s.Results):
		return "failed"
	default:
		return "partial"
	}
}

// Link is a generated WhatsApp link.
type Link struct {
	Recipient string `json:"recipient"`
	URL       string `json:"url"`
}

// Response is the caller facing form of a Summary. totalSent counts links
// for WhatsApp: a link being offered says nothing about delivery.
type Response struct {
	Message        string   `json:"message"`
	TotalSent      int      `json:"totalSent"`
	TotalFailed    int      `json:"totalFailed"`
	Links          []Link   `json:"links,omitempty"`
	Results        []Result `json:"results"`
	NeedsReconnect bool     `json:"needsReconnect,omitempty"`
}

// Response converts s for callers.
func (s Summary) Response() Response {
	resp := Response{
		TotalSent:      s.Delivered + s.Linked,
		TotalFailed:    s.Failed,
		Results:        s.Results,
		NeedsReconnect: s.NeedsReconnect,
	}

	total := len(s.Results)
	if s.Channel == channel.WhatsApp {
		resp.Message = fmt.Sprintf("WhatsApp links generated for %d of %d recipients", s.Linked, total)
		for _, r := range s.Results {
			if r.Outcome == channel.LinkGenerated {
				resp.Links = append(resp.Links, Link{Recipient: r.Recipient, URL: r.URL})
			}
		}
		return resp
	}

	resp.Message = fmt.Sprintf("Meeting sent to %d of %d recipients", s.Delivered, total)
	if s.NeedsReconnect {
		resp.Message += "; reconnect your " + string(s.Channel) + " account"
	}

	return resp
}
