// Package store persists meetings, channel credentials and the dispatch log
// in an embedded SQLite database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/meeting"
)

var (
	// ErrNotFound indicates the requested record does not exist for the user.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the user already has a record with that ID.
	ErrConflict = errors.New("already exists")
)

//go:embed schema.sql
var schema string

// Store is a SQLite backed store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, creating it when missing, and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed: %w", err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CreateMeeting stores m for userID and returns it with its ID assigned.
func (s *Store) CreateMeeting(ctx context.Context, userID string, m meeting.Meeting) (meeting.Meeting, error) {
	if err := m.Validate(); err != nil {
		return meeting.Meeting{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, user_id, title, date, date_ms, location, link, mode, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, userID, m.Title, m.Date.Format(time.RFC3339Nano), toMillis(m.Date),
		m.Location, m.Link, string(m.Mode), m.Description, toMillis(s.now()))
	if isConstraintError(err) {
		return meeting.Meeting{}, fmt.Errorf("%w: meeting %q", ErrConflict, m.ID)
	}
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("insert meeting failed: %w", err)
	}

	return m, nil
}

const meetingColumns = `id, title, date, location, link, mode, description`

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (meeting.Meeting, error) {
	var (
		m    meeting.Meeting
		date string
		mode string
	)
	if err := row.Scan(&m.ID, &m.Title, &date, &m.Location, &m.Link, &mode, &m.Description); err != nil {
		return meeting.Meeting{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("time.Parse failed: %w", err)
	}
	m.Date = t
	m.Mode = meeting.Mode(mode)

	return m, nil
}

// Meeting returns one of userID's meetings.
func (s *Store) Meeting(ctx context.Context, userID, id string) (meeting.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? AND id = ?`, userID, id)

	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return meeting.Meeting{}, fmt.Errorf("meeting %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("select meeting failed: %w", err)
	}

	return m, nil
}

// Meetings lists userID's meetings by date.
func (s *Store) Meetings(ctx context.Context, userID string) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE user_id = ? ORDER BY date_ms, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select meetings failed: %w", err)
	}
	defer rows.Close()

	out := []meeting.Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting failed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return out, nil
}

// DeleteMeeting removes one of userID's meetings.
func (s *Store) DeleteMeeting(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete meeting failed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("res.RowsAffected failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("meeting %q: %w", id, ErrNotFound)
	}

	return nil
}

// GmailCredential returns userID's Gmail credential.
func (s *Store) GmailCredential(ctx context.Context, userID string) (auth.GmailCredential, error) {
	var (
		c        auth.GmailCredential
		expiryMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expiry_ms, email FROM gmail_credentials WHERE user_id = ?`, userID).
		Scan(&c.AccessToken, &c.RefreshToken, &expiryMs, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.GmailCredential{}, fmt.Errorf("gmail credential: %w", ErrNotFound)
	}
	if err != nil {
		return auth.GmailCredential{}, fmt.Errorf("select gmail credential failed: %w", err)
	}

	if expiryMs != 0 {
		c.Expiry = fromMillis(expiryMs)
	}

	return c, nil
}

// SaveGmailCredential replaces userID's Gmail credential. An empty refresh
// token or email keeps the stored one. Concurrent refreshes of the same
// account resolve last write wins.
func (s *Store) SaveGmailCredential(ctx context.Context, userID string, c auth.GmailCredential) error {
	var expiryMs int64
	if !c.Expiry.IsZero() {
		expiryMs = toMillis(c.Expiry)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gmail_credentials (user_id, access_token, refresh_token, expiry_ms, email, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = CASE WHEN excluded.refresh_token = '' THEN gmail_credentials.refresh_token ELSE excluded.refresh_token END,
		   expiry_ms = excluded.expiry_ms,
		   email = CASE WHEN excluded.email = '' THEN gmail_credentials.email ELSE excluded.email END,
		   updated_at = excluded.updated_at`,
		userID, c.AccessToken, c.RefreshToken, expiryMs, c.Email, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("upsert gmail credential failed: %w", err)
	}

	return nil
}

// SMTPCredential returns userID's SMTP server settings.
func (s *Store) SMTPCredential(ctx context.Context, userID string) (auth.SMTPCredential, error) {
	var c auth.SMTPCredential
	err := s.db.QueryRowContext(ctx,
		`SELECT host, port, username, secret, sender FROM smtp_credentials WHERE user_id = ?`, userID).
		Scan(&c.Host, &c.Port, &c.Username, &c.Secret, &c.From)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SMTPCredential{}, fmt.Errorf("smtp credential: %w", ErrNotFound)
	}
	if err != nil {
		return auth.SMTPCredential{}, fmt.Errorf("select smtp credential failed: %w", err)
	}

	return c, nil
}

// SaveSMTPCredential replaces userID's SMTP server settings.
func (s *Store) SaveSMTPCredential(ctx context.Context, userID string, c auth.SMTPCredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO smtp_credentials (user_id, host, port, username, secret, sender, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   host = excluded.host,
		   port = excluded.port,
		   username = excluded.username,
		   secret = excluded.secret,
		   sender = excluded.sender,
		   updated_at = excluded.updated_at`,
		userID, c.Host, c.Port, c.Username, c.Secret, c.From, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("upsert smtp credential failed: %w", err)
	}

	return nil
}

// RecordDispatch appends a finished dispatch to userID's log.
func (s *Store) RecordDispatch(ctx context.Context, userID string, sum dispatch.Summary) error {
	results, err := json.Marshal(sum.Results)
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatches (id, user_id, meeting_id, channel, delivered, linked, failed, results, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, userID, sum.MeetingID, string(sum.Channel), sum.Delivered, sum.Linked, sum.Failed,
		string(results), toMillis(sum.StartedAt), toMillis(sum.FinishedAt))
	if isConstraintError(err) {
		return fmt.Errorf("%w: dispatch %q", ErrConflict, sum.ID)
	}
	if err != nil {
		return fmt.Errorf("insert dispatch failed: %w", err)
	}

	return nil
}

// Dispatches lists the dispatches of one meeting, oldest first.
func (s *Store) Dispatches(ctx context.Context, userID, meetingID string) ([]dispatch.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, channel, delivered, linked, failed, results, started_at, finished_at
		 FROM dispatches WHERE user_id = ? AND meeting_id = ? ORDER BY started_at, id`, userID, meetingID)
	if err != nil {
		return nil, fmt.Errorf("select dispatches failed: %w", err)
	}
	defer rows.Close()

	out := []dispatch.Summary{}
	for rows.Next() {
		var (
			sum                 dispatch.Summary
			kind, results       string
			startedMs, finishMs int64
		)
		err := rows.Scan(&sum.ID, &sum.MeetingID, &kind, &sum.Delivered, &sum.Linked, &sum.Failed,
			&results, &startedMs, &finishMs)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch failed: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &sum.Results); err != nil {
			return nil, fmt.Errorf("json.Unmarshal failed: %w", err)
		}

		sum.Channel = channel.Kind(kind)
		sum.StartedAt = fromMillis(startedMs)
		sum.FinishedAt = fromMillis(finishMs)
		for _, r := range sum.Results {
			if r.Reason == channel.ReasonAuthExpired || r.Reason == channel.ReasonAuthFailed {
				sum.NeedsReconnect = true
			}
		}

		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return out, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
