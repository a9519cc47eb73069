// Package notify runs a dispatch for a stored meeting on behalf of a user and
// keeps the user's records in step with its outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/meeting"
	"github.com/hal9000y/meeting-notify/internal/store"
)

type repository interface {
	Meeting(ctx context.Context, userID, id string) (meeting.Meeting, error)
	GmailCredential(ctx context.Context, userID string) (auth.GmailCredential, error)
	SaveGmailCredential(ctx context.Context, userID string, cred auth.GmailCredential) error
	SMTPCredential(ctx context.Context, userID string) (auth.SMTPCredential, error)
	RecordDispatch(ctx context.Context, userID string, sum dispatch.Summary) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Summary, error)
}

// Service sends stored meetings.
type Service struct {
	repo repository
	disp dispatcher
}

// NewService creates a Service.
func NewService(repo repository, disp dispatcher) *Service {
	return &Service{repo: repo, disp: disp}
}

// Send dispatches meeting meetingID of userID to recipients over kind. A
// refreshed Gmail credential is saved and the summary is added to the
// dispatch log; neither failing affects the result, the messages are out.
func (s *Service) Send(ctx context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error) {
	m, err := s.repo.Meeting(ctx, userID, meetingID)
	if err != nil {
		return dispatch.Summary{}, fmt.Errorf("repo.Meeting failed: %w", err)
	}

	req := dispatch.Request{
		Meeting:    m,
		Recipients: recipients,
		Channel:    kind,
	}

	switch kind {
	case channel.Gmail:
		cred, err := s.repo.GmailCredential(ctx, userID)
		switch {
		case err == nil:
			req.Gmail = &cred
		case !errors.Is(err, store.ErrNotFound):
			return dispatch.Summary{}, fmt.Errorf("repo.GmailCredential failed: %w", err)
		}
	case channel.SMTP:
		cred, err := s.repo.SMTPCredential(ctx, userID)
		switch {
		case err == nil:
			req.SMTP = &cred
		case !errors.Is(err, store.ErrNotFound):
			return dispatch.Summary{}, fmt.Errorf("repo.SMTPCredential failed: %w", err)
		}
	}

	sum, err := s.disp.Dispatch(ctx, req)
	if sum.ID == "" {
		return dispatch.Summary{}, err
	}

	// Persisting must outlive a canceled request: the sends already happened.
	bg := context.WithoutCancel(ctx)

	if sum.Refreshed != nil {
		if serr := s.repo.SaveGmailCredential(bg, userID, *sum.Refreshed); serr != nil {
			slog.Error("repo.SaveGmailCredential failed", slog.String("user_id", userID), slog.Any("error", serr))
		}
	}

	if rerr := s.repo.RecordDispatch(bg, userID, sum); rerr != nil {
		slog.Error("repo.RecordDispatch failed", slog.String("dispatch_id", sum.ID), slog.Any("error", rerr))
	}

	return sum, err
}

type credentialStore interface {
	SaveGmailCredential(ctx context.Context, userID string, cred auth.GmailCredential) error
}

// ProfileFunc resolves the address of the account cred belongs to.
type ProfileFunc func(ctx context.Context, cred auth.GmailCredential) (string, error)

// AccountSaver stores newly connected Gmail accounts along with their
// address, used as the sender of outgoing mail.
type AccountSaver struct {
	store   credentialStore
	profile ProfileFunc
}

// NewAccountSaver creates an AccountSaver.
func NewAccountSaver(store credentialStore, profile ProfileFunc) *AccountSaver {
	return &AccountSaver{store: store, profile: profile}
}

// SaveGmailCredential looks up the account address when missing and saves
// cred. A failed lookup still saves the credential; Gmail fills in the
// sender itself.
func (a *AccountSaver) SaveGmailCredential(ctx context.Context, userID string, cred auth.GmailCredential) error {
	if cred.Email == "" && a.profile != nil {
		email, err := a.profile(ctx, cred)
		if err != nil {
			slog.Warn("Unable to resolve gmail address", slog.String("user_id", userID), slog.Any("error", err))
		}
		cred.Email = email
	}

	return a.store.SaveGmailCredential(ctx, userID, cred)
}
