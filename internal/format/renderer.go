// Package format renders meetings into shareable documents.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/hal9000y/meeting-notify/internal/meeting"
)

// ErrRender indicates the PDF document could not be produced.
var ErrRender = errors.New("render failed")

// DateLayout is how meeting dates are printed in documents and messages.
const DateLayout = "Monday, 02 January 2006 15:04 MST"

const (
	pageMargin = 20.0
	lineHeight = 7.0
	labelWidth = 35.0
)

// Renderer produces PDF documents for meetings.
type Renderer struct {
	now func() time.Time
}

// NewRenderer creates a Renderer. A nil clock defaults to time.Now.
func NewRenderer(now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{now: now}
}

// Render produces the PDF document for m. Output is byte-identical for equal
// meetings and equal clock readings.
func (r *Renderer) Render(m meeting.Meeting) ([]byte, error) {
	generatedAt := r.now().UTC().Truncate(time.Second)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(m.Title, true)
	pdf.SetCreator("meeting-notify", false)
	pdf.SetProducer("meeting-notify", false)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, "Generated at "+generatedAt.Format(time.RFC3339), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, tr(m.Title), "", "L", false)
	pdf.Ln(3)

	pdf.SetDrawColor(180, 180, 180)
	y := pdf.GetY()
	pdf.Line(pageMargin, y, 210-pageMargin, y)
	pdf.Ln(4)

	for _, row := range Details(m) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(labelWidth, lineHeight, tr(row.Label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, lineHeight, tr(row.Value), "", "L", false)
	}

	if desc := PlainText(m.Description); desc != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, lineHeight, "Description", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(desc), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: pdf.Output failed: %w", ErrRender, err)
	}

	return buf.Bytes(), nil
}

// Row is a labelled meeting fact.
type Row struct {
	Label string
	Value string
}

// Details lists the facts shared by documents and messages. Empty optional
// fields are left out.
func Details(m meeting.Meeting) []Row {
	rows := []Row{
		{Label: "Date", Value: m.Date.Format(DateLayout)},
		{Label: "Mode", Value: m.Mode.Label()},
	}
	if loc := strings.TrimSpace(m.Location); loc != "" {
		rows = append(rows, Row{Label: "Location", Value: loc})
	}
	if link := strings.TrimSpace(m.Link); link != "" {
		rows = append(rows, Row{Label: "Join link", Value: link})
	}
	return rows
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns the attachment name used for a meeting document.
func Filename(m meeting.Meeting) string {
	id := strings.Trim(unsafeFilename.ReplaceAllString(m.ID, "-"), "-")
	if id == "" {
		return "meeting.pdf"
	}
	return "meeting-" + id + ".pdf"
}
