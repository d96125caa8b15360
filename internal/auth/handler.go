// handler.go -- HTTP handlers for the /auth/* pages backed by the identity provider.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/MGallo-Code/gatekeep/internal/store"
)

// Provider is the identity provider capability set the handlers need.
// Satisfied by *provider.Client -- defined here (at consumer) per Go convention.
type Provider interface {
	// SignUp creates an account; session is nil when email confirmation is pending.
	SignUp(ctx context.Context, email, password string, data map[string]any) (*provider.User, *provider.Session, error)

	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error)

	// AuthorizeURL builds the provider redirect that starts an OAuth flow.
	AuthorizeURL(name string, opts provider.OAuthOptions) (string, error)

	// ExchangeCodeForSession completes an OAuth flow.
	ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*provider.Session, error)

	// GetUser resolves an access token.
	GetUser(ctx context.Context, accessToken string) (*provider.User, error)

	// SignOut revokes the session behind accessToken.
	SignOut(ctx context.Context, accessToken string) error
}

// AuditLog records auth events and lists a user's recent ones. Satisfied by *store.PostgresStore.
// Optional: a nil AuditLog on AuthHandler disables auditing.
type AuditLog interface {
	InsertAuditLog(ctx context.Context, entry store.AuditEntry) error
	ListAuditLogsByUser(ctx context.Context, userID string, limit int) ([]store.AuditEntry, error)
}

// profileActivityLimit caps the recent-activity list on the profile page.
const profileActivityLimit = 10

// AuthHandler holds dependencies for all /auth/* handlers.
type AuthHandler struct {
	Provider       Provider
	Sessions       *SessionManager
	Views          *Views
	Audit          AuditLog
	OAuthProviders map[string]OAuthProvider // keyed by OAuthProvider.Name
	CallbackURL    string                   // absolute URL of GET /auth/oauth-callback
	HealthChecks   map[string]HealthChecker // dependency name -> checker, for GET /health
	CV             CaptchaVerifier          // optional; nil disables CAPTCHA checks
	CaptchaCP      CaptchaPolicies
	Mailer         SignInNotifier // optional; nil disables sign-in alerts
}

// Index handles GET / -- the landing page.
func (h *AuthHandler) Index(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	h.render(w, r, sess, http.StatusOK, pageIndex, PageData{Title: "Home"})
}

// RegisterForm handles GET /auth/register.
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	if _, ok := UserFromContext(r.Context()); ok {
		h.saveAndRedirect(w, r, sess, "/")
		return
	}
	h.render(w, r, sess, http.StatusOK, pageRegister, PageData{Title: "Register"})
}

// Register handles POST /auth/register -- email + password signup via the provider.
// On success the user is logged in and sent home. On failure the form is
// shown again with an error flash; nothing is retried.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	if _, ok := UserFromContext(r.Context()); ok {
		h.saveAndRedirect(w, r, sess, "/")
		return
	}

	if err := r.ParseForm(); err != nil {
		logWarn(r, "failed to parse register form", "error", err)
		h.Sessions.AddFlash(sess, FlashError, "Registration failed: invalid form submission")
		h.render(w, r, sess, http.StatusBadRequest, pageRegister, PageData{Title: "Register"})
		return
	}
	if !h.Sessions.ValidCSRFToken(sess, r.PostForm.Get("csrf_token")) {
		logWarn(r, "register rejected", "reason", "csrf_mismatch")
		h.forbidden(w, r, sess)
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	data := PageData{Title: "Register", Email: email}

	if !h.checkCaptcha(r, pageRegister) {
		h.Sessions.AddFlash(sess, FlashError, "Registration failed: captcha verification failed")
		h.render(w, r, sess, http.StatusBadRequest, pageRegister, data)
		return
	}
	if msg := ValidateEmail(email); msg != "" {
		h.Sessions.AddFlash(sess, FlashError, "Registration failed: "+msg)
		h.render(w, r, sess, http.StatusBadRequest, pageRegister, data)
		return
	}
	if msg := ValidatePassword(password); msg != "" {
		h.Sessions.AddFlash(sess, FlashError, "Registration failed: "+msg)
		h.render(w, r, sess, http.StatusBadRequest, pageRegister, data)
		return
	}

	user, tokens, err := h.Provider.SignUp(r.Context(), email, password, map[string]any{"email": email})
	if err == nil && user == nil {
		err = fmt.Errorf("sign up: missing user: %w", provider.ErrMalformedResponse)
	}
	if err != nil {
		logProviderError(r, "sign_up", err)
		h.auditLog(r, "", store.ActionRegisterFailed, map[string]string{"reason": failureReason(err)})
		h.Sessions.AddFlash(sess, FlashError, "Registration failed: "+userMessage(err))
		h.render(w, r, sess, http.StatusUnprocessableEntity, pageRegister, data)
		return
	}

	h.Sessions.LogIn(r, sess, user, tokens, false)
	h.Sessions.AddFlash(sess, FlashSuccess, "Registration successful!")
	if tokens == nil {
		h.Sessions.AddFlash(sess, FlashInfo, "Check your email to confirm your account, then log in.")
	}
	h.auditLog(r, user.ID, store.ActionRegistered, map[string]string{"provider": user.AuthProvider()})
	logInfo(r, "user registered", "user_id", user.ID, "session_issued", tokens != nil)
	h.saveAndRedirect(w, r, sess, "/")
}

// LoginForm handles GET /auth/login. Carries a safe ?next= into the form action.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	if _, ok := UserFromContext(r.Context()); ok {
		h.saveAndRedirect(w, r, sess, "/")
		return
	}
	next, _ := SafeNext(r.URL.Query().Get("next"))
	h.render(w, r, sess, http.StatusOK, pageLogin, PageData{Title: "Log in", Next: next})
}

// Login handles POST /auth/login -- email + password sign-in via the provider.
// Redirects to ?next= when it is a local path, home otherwise.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	if _, ok := UserFromContext(r.Context()); ok {
		h.saveAndRedirect(w, r, sess, "/")
		return
	}

	next, _ := SafeNext(r.URL.Query().Get("next"))
	if err := r.ParseForm(); err != nil {
		logWarn(r, "failed to parse login form", "error", err)
		h.Sessions.AddFlash(sess, FlashError, "Login failed: invalid form submission")
		h.render(w, r, sess, http.StatusBadRequest, pageLogin, PageData{Title: "Log in", Next: next})
		return
	}
	if !h.Sessions.ValidCSRFToken(sess, r.PostForm.Get("csrf_token")) {
		logWarn(r, "login rejected", "reason", "csrf_mismatch")
		h.forbidden(w, r, sess)
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	data := PageData{Title: "Log in", Next: next, Email: email}

	if !h.checkCaptcha(r, pageLogin) {
		h.Sessions.AddFlash(sess, FlashError, "Login failed: captcha verification failed")
		h.render(w, r, sess, http.StatusBadRequest, pageLogin, data)
		return
	}

	// Invalid email or missing password -- same generic message as bad credentials.
	if ValidateEmail(email) != "" || password == "" {
		h.Sessions.AddFlash(sess, FlashError, "Login failed: Invalid login credentials")
		h.render(w, r, sess, http.StatusUnauthorized, pageLogin, data)
		return
	}

	tokens, err := h.Provider.SignInWithPassword(r.Context(), email, password)
	if err == nil && (tokens == nil || tokens.User == nil) {
		err = fmt.Errorf("sign in: session without user: %w", provider.ErrMalformedResponse)
	}
	if err != nil {
		logProviderError(r, "sign_in_with_password", err)
		h.auditLog(r, "", store.ActionLoginFailed, map[string]string{"method": "password", "reason": failureReason(err)})
		h.Sessions.AddFlash(sess, FlashError, "Login failed: "+userMessage(err))
		h.render(w, r, sess, http.StatusUnauthorized, pageLogin, data)
		return
	}

	h.Sessions.LogIn(r, sess, tokens.User, tokens, false)
	h.Sessions.AddFlash(sess, FlashSuccess, "Login successful!")
	h.auditLog(r, tokens.User.ID, store.ActionLogin, map[string]string{"provider": tokens.User.AuthProvider()})
	logInfo(r, "user logged in", "user_id", tokens.User.ID, "method", "password")
	h.notifySignIn(r, tokens.User.Email, "password")

	if next == "" {
		next = "/"
	}
	h.saveAndRedirect(w, r, sess, next)
}

// Logout handles GET /auth/logout (behind RequireAuth).
// Provider sign-out is best effort; the local session is cleared regardless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	user, _ := UserFromContext(r.Context())

	if err := h.Provider.SignOut(r.Context(), h.Sessions.AccessToken(sess)); err != nil {
		logProviderError(r, "sign_out", err)
		h.Sessions.AddFlash(sess, FlashError, "Logout failed at the identity provider; you have been signed out here.")
	}

	h.Sessions.LogOut(sess)
	h.Sessions.AddFlash(sess, FlashSuccess, "Logged out successfully.")

	var userID string
	if user != nil {
		userID = user.ID
	}
	h.auditLog(r, userID, store.ActionLogout, nil)
	logInfo(r, "user logged out", "user_id", userID)
	h.saveAndRedirect(w, r, sess, h.Sessions.opts.LoginPath)
}

// Profile handles GET /auth/profile (behind RequireAuth).
// Lists recent audit events when auditing is enabled; a failed lookup just hides the list.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	data := PageData{Title: "Profile"}

	if user, ok := UserFromContext(r.Context()); ok && h.Audit != nil {
		activity, err := h.Audit.ListAuditLogsByUser(r.Context(), user.ID, profileActivityLimit)
		if err != nil {
			logWarn(r, "failed to list audit logs", "error", err, "user_id", user.ID)
		}
		data.Activity = activity
	}
	h.render(w, r, sess, http.StatusOK, pageProfile, data)
}

// auditLog writes an audit row when auditing is enabled. Failures are logged, never fatal.
// userID "" records an unidentified actor.
func (h *AuthHandler) auditLog(r *http.Request, userID, action string, meta map[string]string) {
	if h.Audit == nil {
		return
	}

	entry := store.AuditEntry{Action: action}
	if userID != "" {
		entry.UserID = &userID
	}
	// RemoteAddr includes port -- INET column expects bare IP.
	if ip := clientIP(r); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := r.UserAgent(); ua != "" {
		entry.UserAgent = &ua
	}
	if len(meta) > 0 {
		entry.Metadata, _ = json.Marshal(meta)
	}

	if err := h.Audit.InsertAuditLog(r.Context(), entry); err != nil {
		logWarn(r, "failed to write audit log", "error", err, "action", action)
	}
}

// failureReason is the audit-log classification of a provider error.
func failureReason(err error) string {
	if provider.IsRejection(err) {
		return "rejected"
	}
	return "provider_unavailable"
}
