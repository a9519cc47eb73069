package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type connector interface {
	AuthCodeURL(userID string) (string, error)
	Exchange(ctx context.Context, code, state string) (string, GmailCredential, error)
}

type credentialSaver interface {
	SaveGmailCredential(ctx context.Context, userID string, cred GmailCredential) error
}

// HTTPHandler serves the Gmail connect flow.
type HTTPHandler struct {
	conn  connector
	store credentialSaver
}

// NewHTTPHandler creates an HTTP handler for the OAuth2 flow.
func NewHTTPHandler(conn connector, store credentialSaver) *HTTPHandler {
	return &HTTPHandler{conn: conn, store: store}
}

// Connect redirects the user to the consent screen. Browsers following a
// link cannot set headers, so the user may also come as ?user_id=.
func (h *HTTPHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "Missing user", http.StatusBadRequest)
		return
	}

	u, err := h.conn.AuthCodeURL(userID)
	if err != nil {
		slog.Error("conn.AuthCodeURL failed", slog.Any("error", err))
		http.Error(w, "Unable to start authorization", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, u, http.StatusFound)
}

// Callback exchanges the authorization code and stores the credential.
func (h *HTTPHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}

	userID, cred, err := h.conn.Exchange(r.Context(), code, r.URL.Query().Get("state"))
	if err != nil {
		slog.Warn("conn.Exchange failed", slog.Any("error", err))
		status := http.StatusBadRequest
		if !errors.Is(err, ErrInvalidState) {
			status = http.StatusBadGateway
		}
		http.Error(w, "Unable to authorize provided code", status)
		return
	}

	if err := h.store.SaveGmailCredential(r.Context(), userID, cred); err != nil {
		slog.Error("store.SaveGmailCredential failed", slog.String("user_id", userID), slog.Any("error", err))
		http.Error(w, "Unable to save credential", http.StatusInternalServerError)
		return
	}

	slog.Info("gmail account connected", slog.String("user_id", userID))

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Gmail connected. Token: %s, expires: %s", maskLeft(cred.AccessToken), cred.Expiry.Format(time.RFC3339))
}

func maskLeft(s string) string {
	rs := []rune(s)
	for i := 0; i < len(rs)-4; i++ {
		rs[i] = 'X'
	}
	return string(rs)
}
