// middleware.go

// Current-user resolution and the login guard.
package auth

import (
	"context"
	"net/http"
	"net/url"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user injected by LoadUser.
// Returns nil and false for anonymous requests or when LoadUser hasn't run.
func UserFromContext(ctx context.Context) (*AuthenticatedUser, bool) {
	u, ok := ctx.Value(userKey).(*AuthenticatedUser)
	return u, ok && u != nil
}

// LoadUser resolves the current user once per request and injects it into context.
// Anonymous requests pass through untouched.
func (m *SessionManager) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.Session(r)
		hadToken := m.AccessToken(sess) != ""
		user, ok := m.CurrentUser(r, sess)
		if !ok {
			// Identity was cleared (fingerprint mismatch); persist that.
			if hadToken && m.AccessToken(sess) == "" {
				if err := m.Save(w, r, sess); err != nil {
					logWarn(r, "failed to save session", "error", err)
				}
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAuth redirects anonymous requests to the login page with the
// original request URI as ?next=. Must run after LoadUser.
func (m *SessionManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		logInfo(r, "require auth failed", "reason", "anonymous")
		sess := m.Session(r)
		m.AddFlash(sess, FlashInfo, "Please log in to access this page.")
		if err := m.Save(w, r, sess); err != nil {
			logWarn(r, "failed to save session", "error", err)
		}
		http.Redirect(w, r, m.LoginURL(r.URL.RequestURI()), http.StatusFound)
	})
}

// LoginURL returns the login path with next attached when next is a safe local path.
func (m *SessionManager) LoginURL(next string) string {
	if safe, ok := SafeNext(next); ok {
		return m.opts.LoginPath + "?next=" + url.QueryEscape(safe)
	}
	return m.opts.LoginPath
}
