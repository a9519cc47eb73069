package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/format"
	"github.com/hal9000y/meeting-notify/internal/meeting"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", dispatch.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) createMeeting(w http.ResponseWriter, r *http.Request) {
	var in meeting.Meeting
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	m, err := s.repo.CreateMeeting(r.Context(), userID(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) listMeetings(w http.ResponseWriter, r *http.Request) {
	ms, err := s.repo.Meetings(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.Meeting(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteMeeting(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.Meeting(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := s.render.Render(m)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", format.Filename(m)))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

type sendRequest struct {
	Recipients []string `json:"recipients"`
	Channel    string   `json:"channel,omitempty"`
}

type sendResponse struct {
	DispatchID string `json:"dispatchId"`
	dispatch.Response
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	kind := channel.Gmail
	if in.Channel != "" {
		k, ok := channel.ParseKind(in.Channel)
		if !ok || k == channel.WhatsApp {
			writeError(w, r, fmt.Errorf("%w: channel must be gmail or smtp, got %q", dispatch.ErrInvalidInput, in.Channel))
			return
		}
		kind = k
	}

	s.send(w, r, in.Recipients, kind)
}

func (s *Server) shareWhatsApp(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	s.send(w, r, in.Recipients, channel.WhatsApp)
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, recipients []string, kind channel.Kind) {
	for i, rcpt := range recipients {
		recipients[i] = strings.TrimSpace(rcpt)
	}

	sum, err := s.sender.Send(r.Context(), userID(r), chi.URLParam(r, "id"), recipients, kind)
	if err != nil {
		if sum.ID == "" {
			writeError(w, r, err)
			return
		}
		slog.Warn("Dispatch interrupted", slog.String("dispatch_id", sum.ID), slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, sendResponse{DispatchID: sum.ID, Response: sum.Response()})
}

func (s *Server) listDispatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.repo.Meeting(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}

	sums, err := s.repo.Dispatches(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) putSMTPCredential(w http.ResponseWriter, r *http.Request) {
	var in auth.SMTPCredential
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateSMTP(in); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.repo.SaveSMTPCredential(r.Context(), userID(r), in); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateSMTP(c auth.SMTPCredential) error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", dispatch.ErrInvalidInput, err)
	}
	return nil
}
