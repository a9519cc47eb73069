// Package message builds the outbound messages shared by every recipient of
// a dispatch.
package message

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/hal9000y/meeting-notify/internal/format"
	"github.com/hal9000y/meeting-notify/internal/meeting"
)

// ContentTypePDF is the content type of rendered meeting documents.
const ContentTypePDF = "application/pdf"

// Attachment is a binary file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a rendered message. It is built once per dispatch and must not
// be modified while recipients are being served.
type Message struct {
	Subject    string
	Body       string
	Attachment *Attachment
}

// ForEmail builds the email announcing m with its document attached.
func ForEmail(m meeting.Meeting, doc []byte) Message {
	var b strings.Builder
	b.WriteString("Hello,\n\nYou are invited to the following meeting.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", m.Title)
	writeDetails(&b, m)

	if desc := format.PlainText(m.Description); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}

	msg := Message{
		Subject: "Meeting: " + m.Title,
	}

	if len(doc) > 0 {
		b.WriteString("\nThe meeting document is attached.\n")
		msg.Attachment = &Attachment{
			Filename:    format.Filename(m),
			ContentType: ContentTypePDF,
			Data:        doc,
		}
	}
	msg.Body = b.String()

	return msg
}

// ForWhatsApp builds the text shared through WhatsApp links.
func ForWhatsApp(m meeting.Meeting) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "*Meeting: %s*\n", m.Title)
	writeDetails(&b, m)

	if desc := format.PlainText(m.Description); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
	}

	return Message{
		Subject: m.Title,
		Body:    strings.TrimRight(b.String(), "\n"),
	}
}

func writeDetails(b *strings.Builder, m meeting.Meeting) {
	for _, row := range format.Details(m) {
		fmt.Fprintf(b, "%s: %s\n", row.Label, row.Value)
	}
}

// NewMailMsg converts msg into a MIME message for a single recipient. An
// empty from leaves the header for the provider to fill in.
func NewMailMsg(from, to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if from != "" {
		if err := m.From(from); err != nil {
			return nil, fmt.Errorf("m.From failed: %w", err)
		}
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("m.To failed: %w", err)
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if a := msg.Attachment; a != nil {
		err := m.AttachReader(a.Filename, bytes.NewReader(a.Data),
			mail.WithFileContentType(mail.ContentType(a.ContentType)))
		if err != nil {
			return nil, fmt.Errorf("m.AttachReader failed: %w", err)
		}
	}

	return m, nil
}

// MIME renders msg for a single recipient as RFC 5322 bytes with the
// attachment base64 encoded.
func MIME(from, to string, msg Message) ([]byte, error) {
	m, err := NewMailMsg(from, to, msg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("m.WriteTo failed: %w", err)
	}

	return buf.Bytes(), nil
}
