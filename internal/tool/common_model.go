package tool

import (
	"github.com/hal9000y/meeting-notify/internal/dispatch"
)

// RecipientResult is the outcome for one recipient.
type RecipientResult struct {
	Recipient string `json:"recipient" jsonschema:"the recipient as given"`
	Outcome   string `json:"outcome" jsonschema:"delivered, link_generated or failed"`
	ID        string `json:"id,omitempty" jsonschema:"provider message ID"`
	URL       string `json:"url,omitempty" jsonschema:"WhatsApp link to open"`
	Reason    string `json:"reason,omitempty" jsonschema:"failure reason"`
}

// SendResponse summarises a dispatch.
type SendResponse struct {
	DispatchID     string            `json:"dispatch_id" jsonschema:"dispatch ID"`
	Message        string            `json:"message" jsonschema:"human readable summary"`
	TotalSent      int               `json:"total_sent" jsonschema:"recipients delivered to, or links generated"`
	TotalFailed    int               `json:"total_failed" jsonschema:"recipients that failed"`
	NeedsReconnect bool              `json:"needs_reconnect,omitempty" jsonschema:"the account must be connected again"`
	Results        []RecipientResult `json:"results" jsonschema:"per recipient outcomes in input order"`
}

func newSendResponse(sum dispatch.Summary) SendResponse {
	resp := sum.Response()

	results := make([]RecipientResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, RecipientResult{
			Recipient: r.Recipient,
			Outcome:   string(r.Outcome),
			ID:        r.ID,
			URL:       r.URL,
			Reason:    string(r.Reason),
		})
	}

	return SendResponse{
		DispatchID:     sum.ID,
		Message:        resp.Message,
		TotalSent:      resp.TotalSent,
		TotalFailed:    resp.TotalFailed,
		NeedsReconnect: resp.NeedsReconnect,
		Results:        results,
	}
}
