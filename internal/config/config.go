// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Config is the environment of the service.
type Config struct {
	OAuthClientID     string `env:"OAUTH_GOOGLE_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_GOOGLE_CLIENT_SECRET"`
	// OAuthRedirectURL defaults to the callback route on the listen address.
	OAuthRedirectURL string `env:"OAUTH_REDIRECT_URL"`

	DBPath string `env:"DB_PATH" envDefault:"./data/meeting-notify.db"`

	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY"  envDefault:"8"`
	DispatchSendTimeout time.Duration `env:"DISPATCH_SEND_TIMEOUT" envDefault:"20s"`

	GmailRatePerSec float64 `env:"GMAIL_RATE_PER_SEC" envDefault:"5"`
	GmailBurst      int     `env:"GMAIL_BURST"        envDefault:"10"`
	BreakerEnabled  bool    `env:"BREAKER_ENABLED"    envDefault:"true"`

	// MCPUserID is the user MCP tools act for.
	MCPUserID string `env:"MCP_USER_ID" envDefault:"default"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads envFile, when given, into the process environment and parses
// the result. Variables already set take precedence over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("godotenv.Load failed: %w", err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("env.ParseAs failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every missing or out of range value at once.
func (c Config) Validate() error {
	var errs []error

	if c.OAuthClientID == "" {
		errs = append(errs, errors.New("OAUTH_GOOGLE_CLIENT_ID must be set"))
	}
	if c.OAuthClientSecret == "" {
		errs = append(errs, errors.New("OAUTH_GOOGLE_CLIENT_SECRET must be set"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if c.DispatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_CONCURRENCY must be positive, got %d", c.DispatchConcurrency))
	}
	if c.DispatchSendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_SEND_TIMEOUT must be positive, got %s", c.DispatchSendTimeout))
	}
	if c.GmailRatePerSec <= 0 {
		errs = append(errs, fmt.Errorf("GMAIL_RATE_PER_SEC must be positive, got %v", c.GmailRatePerSec))
	}
	if c.GmailBurst < 1 {
		errs = append(errs, fmt.Errorf("GMAIL_BURST must be positive, got %d", c.GmailBurst))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// OAuth returns the Google OAuth client. lnAddr is the HTTP listen address
// the callback URL is derived from when none is configured.
func (c Config) OAuth(lnAddr string) *oauth2.Config {
	redirect := c.OAuthRedirectURL
	if redirect == "" {
		redirect = fmt.Sprintf("http://%s/oauth/callback", lnAddr)
	}

	return &oauth2.Config{
		ClientID:     c.OAuthClientID,
		ClientSecret: c.OAuthClientSecret,
		RedirectURL:  redirect,
		// metadata is the narrowest scope that allows reading the profile
		Scopes:   []string{gmail.GmailSendScope, gmail.GmailMetadataScope},
		Endpoint: google.Endpoint,
	}
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	l, err := c.level()
	if err != nil {
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}

	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
