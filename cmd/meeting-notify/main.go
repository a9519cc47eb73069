// Meeting notify server distributes meetings by Gmail, SMTP and WhatsApp
// links over HTTP and the Model Context Protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"

	"github.com/hal9000y/meeting-notify/internal/auth"
	"github.com/hal9000y/meeting-notify/internal/channel"
	"github.com/hal9000y/meeting-notify/internal/config"
	"github.com/hal9000y/meeting-notify/internal/dispatch"
	"github.com/hal9000y/meeting-notify/internal/format"
	"github.com/hal9000y/meeting-notify/internal/gservice"
	"github.com/hal9000y/meeting-notify/internal/httpapi"
	"github.com/hal9000y/meeting-notify/internal/notify"
	"github.com/hal9000y/meeting-notify/internal/store"
	"github.com/hal9000y/meeting-notify/internal/tool"
)

func main() {
	httpAddr := flag.String("http-addr", "localhost:8080", "HTTP SERVER listen addr")
	envFileParam := flag.String("env-file", "", "Path to env file")
	enableStdio := flag.Bool("stdio", false, "Enable stdio transport for MCP (disables stdout logging)")
	logFile := flag.String("log-file", "", "Path to log file (only used with stdio transport, otherwise logs to stdout)")

	flag.Parse()

	cfg, err := config.Load(*envFileParam)
	if err != nil {
		panic(fmt.Errorf("config.Load failed: %w", err))
	}

	persistLogs := setupLogger(cfg, *enableStdio, *logFile)
	defer persistLogs()

	ln := mustListen(*httpAddr)
	oauthCfg := cfg.OAuth(ln.Addr().String())

	st := mustOpenStore(cfg.DBPath)
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("st.Close failed", slog.Any("error", err))
		}
	}()

	render := format.NewRenderer(time.Now)
	disp := dispatch.New(render, auth.NewGuard(oauthCfg, time.Now), newAdapters(cfg), dispatch.Options{
		Concurrency: cfg.DispatchConcurrency,
		SendTimeout: cfg.DispatchSendTimeout,
	})
	svc := notify.NewService(st, disp)

	accounts := notify.NewAccountSaver(st, gmailProfile)
	authHTTP := auth.NewHTTPHandler(auth.NewConnector(oauthCfg, time.Now), accounts)

	meetingT := tool.NewServer(st, svc, cfg.MCPUserID)
	mcpHTTP := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server { return meetingT }, nil)

	api := httpapi.NewServer(st, svc, render, authHTTP, mcpHTTP)

	srv := &http.Server{
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)

	signal.Notify(shutdown, syscall.SIGTERM, syscall.SIGINT)

	stopHTTP, errHTTPCh := serveHTTP(srv, ln)
	defer stopHTTP()

	var errStdioCh <-chan error
	if *enableStdio {
		if _, err := st.GmailCredential(context.Background(), cfg.MCPUserID); errors.Is(err, store.ErrNotFound) {
			openBrowser(fmt.Sprintf("http://%s/oauth/connect?user_id=%s", ln.Addr().String(), cfg.MCPUserID))
		}

		var stopStdio func()
		stopStdio, errStdioCh = serveStdio(meetingT)
		defer stopStdio()
	}

	select {
	case err := <-errHTTPCh:
		slog.Error("Error http server", slog.Any("error", err))
	case err := <-errStdioCh:
		slog.Error("Error stdio", slog.Any("error", err))
	case <-shutdown:
		slog.Info("Shutdown signal received")
	}
}

// newAdapters builds per-dispatch adapters around limiters and breakers
// that live for the whole process.
func newAdapters(cfg config.Config) dispatch.Adapters {
	gmailLimiter := rate.NewLimiter(rate.Limit(cfg.GmailRatePerSec), cfg.GmailBurst)
	gmailBreakers := channel.NewBreakerSet(channel.Gmail, channel.DefaultBreakerConfig())
	smtpBreakers := channel.NewBreakerSet(channel.SMTP, channel.DefaultBreakerConfig())

	return dispatch.Adapters{
		Gmail: func(ctx context.Context, cred auth.GmailCredential) (channel.Adapter, error) {
			svc, err := gservice.NewGmail(ctx, cred)
			if err != nil {
				return nil, fmt.Errorf("gservice.NewGmail failed: %w", err)
			}

			var a channel.Adapter = channel.NewGmail(svc, cred.Email)
			if cfg.BreakerEnabled {
				a = channel.Breaker(a, gmailBreakers.Get("api"))
			}
			return channel.Limit(a, gmailLimiter), nil
		},
		SMTP: func(cred auth.SMTPCredential) (channel.Adapter, error) {
			var a channel.Adapter = channel.NewSMTP(cred, cfg.DispatchSendTimeout)
			if cfg.BreakerEnabled {
				a = channel.Breaker(a, smtpBreakers.Get(cred.Addr()))
			}
			return a, nil
		},
		WhatsApp: channel.NewWhatsApp(),
	}
}

func gmailProfile(ctx context.Context, cred auth.GmailCredential) (string, error) {
	svc, err := gservice.NewGmail(ctx, cred)
	if err != nil {
		return "", fmt.Errorf("gservice.NewGmail failed: %w", err)
	}
	return svc.Profile(ctx)
}

func serveStdio(srv *mcp.Server) (func(), <-chan error) {
	errStdioCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(errStdioCh)
		slog.Info("Starting stdio transport")

		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
			err = fmt.Errorf("srv.Run failed: %w", err)
			errStdioCh <- err
		}
	}()

	return func() {
		cancel()

		<-errStdioCh
		slog.Info("Stdio transport stopped")
	}, errStdioCh
}

func serveHTTP(srv *http.Server, ln net.Listener) (func(), <-chan error) {
	errHTTPCh := make(chan error, 1)
	go func() {
		defer close(errHTTPCh)

		slog.Info("Starting http server", slog.String("addr", ln.Addr().String()))

		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = fmt.Errorf("srv.Serve failed: %w", err)
			slog.Error("HTTP server failed", slog.Any("error", err))
			errHTTPCh <- err
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("srv.Shutdown failed", slog.Any("error", err))
		}

		<-errHTTPCh
		slog.Info("HTTP server stopped")
	}, errHTTPCh
}

func mustListen(httpAddr string) net.Listener {
	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		panic(fmt.Errorf("net.Listen failed: %w", err))
	}

	return ln
}

func mustOpenStore(path string) *store.Store {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(fmt.Errorf("os.MkdirAll failed: %w", err))
		}
	}

	st, err := store.Open(path)
	if err != nil {
		panic(fmt.Errorf("store.Open failed: %w", err))
	}

	return st
}

func setupLogger(cfg config.Config, enableStdio bool, logFile string) func() {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		slog.SetDefault(cfg.Logger(f))

		return func() {
			if err := f.Close(); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("f.Close failed: %w", err))
			}
		}
	}

	var w io.Writer = os.Stdout
	if enableStdio {
		w = io.Discard
	}
	slog.SetDefault(cfg.Logger(w))

	return func() {}
}

func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}

	if err != nil {
		slog.Warn("Could not open browser automatically; please open the link to connect Gmail",
			slog.Any("error", err), slog.String("url", url))
	}
}
