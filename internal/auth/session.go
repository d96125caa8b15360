// session.go

// Session manager: maps the server-side browser session to a provider identity.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/gorilla/sessions"
)

// DefaultSessionName is the cookie name used when SessionOptions.Name is empty.
const DefaultSessionName = "gatekeep_session"

// Session value keys.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyNext         = "next"
	keyUserID       = "user_id"
	keyRemember     = "remember"
	keyFingerprint  = "fingerprint"
	keyCodeVerifier = "code_verifier"
	keyCSRFToken    = "csrf_token"
)

// Flash categories, used as CSS classes by the templates.
const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// Flash is a one-shot message rendered on the next page.
type Flash struct {
	Category string
	Message  string
}

func init() {
	// Session values are gob encoded by every gorilla store.
	gob.Register(Flash{})
}

// AuthenticatedUser is the current user as resolved for one request.
// Rebuilt from the provider on every request; never stored.
type AuthenticatedUser struct {
	ID           string
	Email        string
	AuthProvider string
}

// UserResolver resolves an access token to a provider user.
// Satisfied by *provider.Client.
type UserResolver interface {
	GetUser(ctx context.Context, accessToken string) (*provider.User, error)
}

// SessionDiscarder drops a session's server-side data by id.
// Satisfied by *store.RedisSessionStore and *store.FilesystemSessionStore.
type SessionDiscarder interface {
	Discard(ctx context.Context, id string) error
}

// Protection selects how a changed client fingerprint (IP + User-Agent) is treated.
type Protection string

const (
	// ProtectionStrong treats a session presented from a new fingerprint as anonymous.
	ProtectionStrong Protection = "strong"
	// ProtectionBasic logs the mismatch and keeps the user logged in.
	ProtectionBasic Protection = "basic"
	// ProtectionOff skips fingerprinting.
	ProtectionOff Protection = "off"
)

// SessionOptions configures cookies and identity checks.
type SessionOptions struct {
	Name             string
	Lifetime         time.Duration // cookie MaxAge for regular logins and anonymous sessions
	RememberLifetime time.Duration // cookie MaxAge after a "remember me" login
	Secure           bool
	Domain           string
	Protection       Protection
	LoginPath        string // where RequireAuth sends anonymous users
}

// SessionManager loads and mutates the per-browser session and resolves the
// current user. Built once in main and shared by all handlers.
// The store's codec MaxAge must cover RememberLifetime or remembered sessions
// fail signature checks early.
type SessionManager struct {
	store sessions.Store
	users UserResolver
	opts  SessionOptions
}

// NewSessionManager fills defaults for zero-valued options.
func NewSessionManager(store sessions.Store, users UserResolver, opts SessionOptions) *SessionManager {
	if opts.Name == "" {
		opts.Name = DefaultSessionName
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = time.Hour
	}
	if opts.RememberLifetime <= 0 {
		opts.RememberLifetime = opts.Lifetime
	}
	if opts.Protection == "" {
		opts.Protection = ProtectionStrong
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/auth/login"
	}
	return &SessionManager{store: store, users: users, opts: opts}
}

// Session returns the request's session. An unreadable cookie (bad signature,
// expired, corrupt file) is logged and replaced by a fresh session.
func (m *SessionManager) Session(r *http.Request) *sessions.Session {
	sess, err := m.store.Get(r, m.opts.Name)
	if err != nil {
		logWarn(r, "discarding unreadable session", "error", err)
	}
	if sess == nil {
		sess = sessions.NewSession(m.store, m.opts.Name)
	}
	if err != nil {
		sess.Values = make(map[interface{}]interface{})
		sess.IsNew = true
	}
	m.applyCookieOptions(sess)
	return sess
}

// Save persists the session and sets its cookie.
func (m *SessionManager) Save(w http.ResponseWriter, r *http.Request, sess *sessions.Session) error {
	return sess.Save(r, w)
}

// CurrentUser resolves the session's access token to a user. Any failure
// (no token, fingerprint mismatch, provider error) yields anonymous; the
// error is logged, never returned. Under strong protection a fingerprint
// mismatch also clears the identity from sess; the caller saves it.
func (m *SessionManager) CurrentUser(r *http.Request, sess *sessions.Session) (*AuthenticatedUser, bool) {
	token := stringValue(sess, keyAccessToken)
	if token == "" {
		return nil, false
	}

	if m.opts.Protection != ProtectionOff {
		if stored := stringValue(sess, keyFingerprint); stored != "" && stored != fingerprint(r) {
			logWarn(r, "session fingerprint changed", "protection", string(m.opts.Protection))
			if m.opts.Protection == ProtectionStrong {
				m.LogOut(sess)
				return nil, false
			}
		}
	}

	u, err := m.users.GetUser(r.Context(), token)
	if err != nil {
		if provider.IsRejection(err) {
			logInfo(r, "access token rejected by provider", "error", err)
		} else {
			logWarn(r, "resolving current user failed", "error", err)
		}
		return nil, false
	}
	if u == nil || u.ID == "" {
		logWarn(r, "provider returned empty user for access token")
		return nil, false
	}
	if marker := stringValue(sess, keyUserID); marker != "" && marker != u.ID {
		logWarn(r, "access token belongs to a different user than the session", "session_user_id", marker, "token_user_id", u.ID)
		return nil, false
	}

	return &AuthenticatedUser{
		ID:           u.ID,
		Email:        u.Email,
		AuthProvider: u.AuthProvider(),
	}, true
}

// LogIn marks sess as authenticated for user. tokens may be nil (sign-up awaiting
// email confirmation), in which case stale tokens are removed.
// The session id is rotated so a pre-login id can't be reused; stores that
// keep data server side drop the old entry.
func (m *SessionManager) LogIn(r *http.Request, sess *sessions.Session, user *provider.User, tokens *provider.Session, remember bool) {
	if d, ok := m.store.(SessionDiscarder); ok && sess.ID != "" {
		if err := d.Discard(r.Context(), sess.ID); err != nil {
			logWarn(r, "failed to discard pre-login session", "error", err)
		}
	}
	sess.ID = ""
	sess.Values[keyUserID] = user.ID
	if tokens != nil && tokens.AccessToken != "" {
		sess.Values[keyAccessToken] = tokens.AccessToken
		sess.Values[keyRefreshToken] = tokens.RefreshToken
	} else {
		delete(sess.Values, keyAccessToken)
		delete(sess.Values, keyRefreshToken)
	}
	sess.Values[keyFingerprint] = fingerprint(r)
	delete(sess.Values, keyCSRFToken)

	if remember {
		sess.Values[keyRemember] = true
	} else {
		delete(sess.Values, keyRemember)
	}
	m.applyCookieOptions(sess)
}

// LogOut drops tokens and the identity marker. The session itself survives so
// flashes set afterwards still reach the next page.
func (m *SessionManager) LogOut(sess *sessions.Session) {
	for _, k := range []string{keyAccessToken, keyRefreshToken, keyUserID, keyRemember, keyFingerprint} {
		delete(sess.Values, k)
	}
	m.applyCookieOptions(sess)
}

// AccessToken returns the stored provider access token, or "".
func (m *SessionManager) AccessToken(sess *sessions.Session) string {
	return stringValue(sess, keyAccessToken)
}

// SetNext stores next for the OAuth round trip when it is a safe local path.
// Reports whether it was stored.
func (m *SessionManager) SetNext(sess *sessions.Session, next string) bool {
	safe, ok := SafeNext(next)
	if !ok {
		return false
	}
	sess.Values[keyNext] = safe
	return true
}

// PopNext removes and returns the stored redirect target; "" if none or unsafe.
func (m *SessionManager) PopNext(sess *sessions.Session) string {
	next := stringValue(sess, keyNext)
	delete(sess.Values, keyNext)
	safe, _ := SafeNext(next)
	return safe
}

// SetCodeVerifier stores the PKCE verifier for an in-flight OAuth flow.
func (m *SessionManager) SetCodeVerifier(sess *sessions.Session, verifier string) {
	sess.Values[keyCodeVerifier] = verifier
}

// PopCodeVerifier removes and returns the PKCE verifier, or "".
func (m *SessionManager) PopCodeVerifier(sess *sessions.Session) string {
	v := stringValue(sess, keyCodeVerifier)
	delete(sess.Values, keyCodeVerifier)
	return v
}

// AddFlash queues a message for the next rendered page.
func (m *SessionManager) AddFlash(sess *sessions.Session, category, message string) {
	sess.AddFlash(Flash{Category: category, Message: message})
}

// Flashes drains queued messages. Unknown entries are skipped.
func (m *SessionManager) Flashes(sess *sessions.Session) []Flash {
	var out []Flash
	for _, f := range sess.Flashes() {
		if fl, ok := f.(Flash); ok {
			out = append(out, fl)
		}
	}
	return out
}

// SafeNext reports whether next is a same-origin relative path and returns it.
// Rejects absolute URLs, scheme-relative "//host", any backslash, empty path
// segments and control characters. http.Redirect cleans the path before
// writing Location, so the cleaned path is checked as well.
func SafeNext(next string) (string, bool) {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "", false
	}
	if strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n\t") {
		return "", false
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	// Decoded path: catches %5C and %2F%2F.
	if strings.Contains(u.Path, "//") || strings.Contains(u.Path, "\\") {
		return "", false
	}
	if cleaned := path.Clean(u.Path); strings.HasPrefix(cleaned, "//") || strings.HasPrefix(cleaned, "/\\") {
		return "", false
	}
	return next, true
}

// applyCookieOptions sets cookie flags and lifetime from the remember flag.
func (m *SessionManager) applyCookieOptions(sess *sessions.Session) {
	lifetime := m.opts.Lifetime
	if remember, _ := sess.Values[keyRemember].(bool); remember {
		lifetime = m.opts.RememberLifetime
	}
	sess.Options = &sessions.Options{
		Path:     "/",
		Domain:   m.opts.Domain,
		MaxAge:   int(lifetime.Seconds()),
		Secure:   m.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// fingerprint hashes client IP + User-Agent. RealIP middleware has already
// rewritten RemoteAddr when running behind a proxy.
func fingerprint(r *http.Request) string {
	sum := sha256.Sum256([]byte(clientIP(r) + "|" + r.UserAgent()))
	return hex.EncodeToString(sum[:])
}

// stringValue returns sess.Values[key] as a string, "" when absent or another type.
func stringValue(sess *sessions.Session, key string) string {
	s, _ := sess.Values[key].(string)
	return s
}
