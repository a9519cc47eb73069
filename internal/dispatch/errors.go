package dispatch

import (
	"errors"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/format"
)

// Call-wide failures. Anything that goes wrong for a single recipient is
// reported in that recipient's Result instead.
var (
	// ErrInvalidInput indicates an empty recipient list, an unknown channel,
	// a missing channel credential or an invalid meeting. No send is attempted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthExpired indicates the Gmail credential could not be refreshed.
	// The user must reconnect the account.
	ErrAuthExpired = auth.ErrAuthExpired

	// ErrRender indicates the meeting document could not be produced.
	ErrRender = format.ErrRender
)
