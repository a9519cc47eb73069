package format_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9000y/meeting-notify/internal/format"
	"github.com/hal9000y/meeting-notify/internal/meeting"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testMeeting() meeting.Meeting {
	return meeting.Meeting{
		ID:          "42",
		Title:       "Quarterly review",
		Date:        time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Location:    "Room 4",
		Link:        "https://meet.example.com/abc",
		Mode:        meeting.ModeHybrid,
		Description: "<p>Agenda</p><ul><li>Budget</li><li>Hiring</li></ul>",
	}
}

func TestRenderDeterministic(t *testing.T) {
	clock := fixedClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	r := format.NewRenderer(clock)

	first, err := r.Render(testMeeting())
	require.NoError(t, err)
	second, err := r.Render(testMeeting())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")), "output should be a PDF document")
	assert.Equal(t, first, second)

	other := testMeeting()
	other.Title = "Annual review"
	third, err := r.Render(other)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestRenderOptionalFields(t *testing.T) {
	r := format.NewRenderer(fixedClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))

	m := meeting.Meeting{
		ID:    "7",
		Title: "Réunion du comité",
		Date:  time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		Mode:  meeting.ModeOffline,
	}

	out, err := r.Render(m)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestDetails(t *testing.T) {
	m := testMeeting()
	assert.Equal(t, []format.Row{
		{Label: "Date", Value: "Monday, 02 June 2025 14:00 UTC"},
		{Label: "Mode", Value: "Hybrid"},
		{Label: "Location", Value: "Room 4"},
		{Label: "Join link", Value: "https://meet.example.com/abc"},
	}, format.Details(m))

	m.Location = " "
	m.Link = ""
	assert.Len(t, format.Details(m), 2)
}

func TestFilename(t *testing.T) {
	cases := []struct {
		id       string
		expected string
	}{
		{id: "42", expected: "meeting-42.pdf"},
		{id: "a/b c", expected: "meeting-a-b-c.pdf"},
		{id: "", expected: "meeting.pdf"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, format.Filename(meeting.Meeting{ID: tc.id}))
	}
}
