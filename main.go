package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/gatekeep/internal/auth"
	"github.com/MGallo-Code/gatekeep/internal/captcha"
	"github.com/MGallo-Code/gatekeep/internal/config"
	"github.com/MGallo-Code/gatekeep/internal/mail"
	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/MGallo-Code/gatekeep/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// cleanupInterval is how often expired session files and old audit rows are removed.
const cleanupInterval = time.Hour

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	health := make(map[string]auth.HealthChecker)

	// Session store. The codec must accept cookies as old as the longest cookie lifetime.
	keyPairs := sessionKeyPairs(cfg)
	codecMaxAge := int(max(cfg.SessionLifetime, cfg.SessionRememberMe).Seconds())
	var sessionStore sessions.Store
	var sessionDir string
	var rdb *redis.Client
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		// Create shared Redis client (sessions + mail queue)
		var err error
		rdb, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()

		rs := store.NewRedisSessionStore(rdb, keyPairs...)
		rs.MaxAge(codecMaxAge)
		sessionStore = rs
		health["redis"] = rs
	default:
		fsStore, err := store.NewFilesystemSessionStore(cfg.SessionDir, keyPairs...)
		if err != nil {
			return fmt.Errorf("failed to set up session directory: %w", err)
		}
		fsStore.MaxAge(codecMaxAge)
		sessionStore = fsStore
		sessionDir = cfg.SessionDir
	}

	// Audit log -- optional. A nil ps reports "disabled" on /health.
	var ps *store.PostgresStore
	if cfg.DatabaseURL != "" {
		var err error
		ps, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
		// Close at end of run func
		defer ps.Close()

		// Run database migrations
		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			return fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		if err := ps.Migrate(ctx, migrationsFS); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	health["postgres"] = ps

	client := provider.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.ProviderTimeout)
	health["provider"] = client

	views, err := auth.NewViews()
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	sm := auth.NewSessionManager(sessionStore, client, auth.SessionOptions{
		Lifetime:         cfg.SessionLifetime,
		RememberLifetime: cfg.SessionRememberMe,
		Secure:           cfg.CookieSecure,
		Domain:           cfg.CookieDomain,
		Protection:       auth.Protection(cfg.SessionProtection),
	})

	// Create AuthHandler
	h := &auth.AuthHandler{
		Provider: client,
		Sessions: sm,
		Views:    views,
		OAuthProviders: map[string]auth.OAuthProvider{
			auth.GoogleOAuth.Name: auth.GoogleOAuth,
			auth.GitHubOAuth.Name: auth.GitHubOAuth,
		},
		CallbackURL:  cfg.CallbackURL(),
		HealthChecks: health,
	}

	// Background work (cleanup, mail worker) stops when run() returns.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	if cfg.MailEnabled() {
		smtpMailer := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.SMTPFrom,
			ActivityURL: cfg.PublicURL + "/auth/profile",
		})
		if rdb != nil {
			q := mail.NewQueuedMailer(smtpMailer, rdb, cfg.MailQueueMax)
			go q.StartWorker(bgCtx)
			h.Mailer = q
		} else {
			slog.Warn("sign-in alerts are sent inline; set SESSION_STORE=redis to queue them")
			h.Mailer = smtpMailer
		}
	}
	if cfg.CaptchaEnabled() {
		h.CV = captcha.NewTurnstile(cfg.TurnstileSiteKey, cfg.TurnstileSecretKey)
		h.CaptchaCP = auth.CaptchaPolicies{Register: cfg.CaptchaRegister, Login: cfg.CaptchaLogin}
	}
	// Assigned only when set so a nil *PostgresStore never hides behind a non-nil interface.
	if ps != nil {
		h.Audit = ps
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Cleanup goroutine; sweeps expired session files and prunes old audit rows.
	go runCleanup(bgCtx, sessionDir, time.Duration(codecMaxAge)*time.Second, ps, cfg.AuditRetention)

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	go func() {
		slog.Info("gatekeep listening", "addr", ln.Addr().String(), "scheme", scheme, "session_store", cfg.SessionStore, "audit", ps != nil, "captcha", h.CV != nil, "mail", h.Mailer != nil)
		var err error
		if cfg.TLSEnabled() {
			err = server.ServeTLS(ln, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.Serve(ln)
		}
		// Send error only if server stops for a reason other than explicit shutdown.
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- scheme + "://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown: stop accepting, drain in-flight requests, give up after 30s.
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)

	// Everything rendered for a browser resolves the current user first.
	r.Group(func(r chi.Router) {
		r.Use(h.Sessions.LoadUser)

		r.Get("/", h.Index)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/register", h.RegisterForm)
			r.Post("/register", h.Register)
			r.Get("/login", h.LoginForm)
			r.Post("/login", h.Login)
			r.Get("/login/{provider}", h.OAuthLogin)
			r.Get("/oauth-callback", h.OAuthCallback)

			// Authentication required routes
			// DO NOT RUN RequireAuth BEFORE LoadUser
			r.Group(func(r chi.Router) {
				r.Use(h.Sessions.RequireAuth)
				r.Get("/logout", h.Logout)
				r.Get("/profile", h.Profile)
			})
		})
	})

	r.NotFound(auth.NotFound)
	return r
}

// sessionKeyPairs returns securecookie hash keys, current first.
// A previous key keeps pre-rotation cookies readable until they expire.
func sessionKeyPairs(cfg *config.Config) [][]byte {
	pairs := [][]byte{[]byte(cfg.SecretKey), nil}
	if cfg.PreviousSecretKey != "" {
		pairs = append(pairs, []byte(cfg.PreviousSecretKey), nil)
	}
	return pairs
}

// runCleanup removes expired filesystem sessions and audit rows older than retention
// every cleanupInterval until ctx is done. Either job is skipped when its store isn't in use.
func runCleanup(ctx context.Context, sessionDir string, sessionMaxAge time.Duration, ps *store.PostgresStore, retention time.Duration) {
	if sessionDir == "" && ps == nil {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if sessionDir != "" {
				n, err := store.SweepFilesystemSessions(sessionDir, sessionMaxAge)
				if err != nil {
					slog.Warn("session cleanup failed", "error", err)
				} else {
					slog.Info("session cleanup complete", "deleted", n)
				}
			}
			if ps != nil {
				n, err := ps.PruneAuditLogs(ctx, retention)
				if err != nil {
					slog.Warn("audit log cleanup failed", "error", err)
				} else {
					slog.Info("audit log cleanup complete", "deleted", n)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
