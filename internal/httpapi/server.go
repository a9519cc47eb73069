// Package httpapi exposes meetings and their distribution over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/meeting"
	"github.com/hal9000y/meeting-notify/internal/store"
)

type repository interface {
	CreateMeeting(ctx context.Context, userID string, m meeting.Meeting) (meeting.Meeting, error)
	Meeting(ctx context.Context, userID, id string) (meeting.Meeting, error)
	Meetings(ctx context.Context, userID string) ([]meeting.Meeting, error)
	DeleteMeeting(ctx context.Context, userID, id string) error
	SaveSMTPCredential(ctx context.Context, userID string, c auth.SMTPCredential) error
	Dispatches(ctx context.Context, userID, meetingID string) ([]dispatch.Summary, error)
	Ping(ctx context.Context) error
}

type sender interface {
	Send(ctx context.Context, userID, meetingID string, recipients []string, kind channel.Kind) (dispatch.Summary, error)
}

type renderer interface {
	Render(m meeting.Meeting) ([]byte, error)
}

// OAuth serves the Gmail connect flow.
type OAuth interface {
	Connect(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
}

// Server holds the HTTP handlers.
type Server struct {
	repo   repository
	sender sender
	render renderer
	oauth  OAuth
	mcp    http.Handler
}

// NewServer creates a Server. mcp may be nil.
func NewServer(repo repository, sender sender, render renderer, oauth OAuth, mcp http.Handler) *Server {
	return &Server{
		repo:   repo,
		sender: sender,
		render: render,
		oauth:  oauth,
		mcp:    mcp,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logRequests, middleware.Recoverer, instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Get("/oauth/connect", s.oauth.Connect)
	r.Get("/oauth/callback", s.oauth.Callback)

	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/meetings", s.createMeeting)
		r.Get("/meetings", s.listMeetings)
		r.Route("/meetings/{id}", func(r chi.Router) {
			r.Get("/", s.getMeeting)
			r.Delete("/", s.deleteMeeting)
			r.Get("/document", s.getDocument)
			r.Post("/email", s.sendEmail)
			r.Post("/whatsapp", s.shareWhatsApp)
			r.Get("/dispatches", s.listDispatches)
		})

		r.Put("/credentials/smtp", s.putSMTPCredential)
	})

	return r
}

type userKey struct{}

// requireUser takes the acting user from X-User-ID. Authentication happens
// in front of the service.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing_X-User-ID"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps call-wide failures to a status. Per-recipient failures
// never get here; they travel inside a 200 response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidInput), errors.Is(err, meeting.ErrInvalidMeeting):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict"})
	case errors.Is(err, dispatch.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "reconnect_required"})
	case errors.Is(err, dispatch.ErrRender):
		slog.Error("Render failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "render_failed"})
	default:
		slog.Error("Request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
