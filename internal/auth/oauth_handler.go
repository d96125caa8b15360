// oauth_handler.go -- OAuth login start and callback.
// The provider runs the actual OAuth dance; this side only sends the browser
// there with a PKCE challenge and exchanges the returned code for a session.
// Adding a provider: define an OAuthProvider and register it in OAuthProviders in main.go.
package auth

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/MGallo-Code/gatekeep/internal/store"
	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
)

// OAuthProvider describes one external login option offered on the login page.
type OAuthProvider struct {
	Name        string // provider id passed to the identity provider, e.g. "google"
	Label       string // display name, e.g. "Google"
	Scopes      string // space separated
	QueryParams map[string]string
}

// GoogleOAuth requests offline access with forced consent so a refresh token is issued.
var GoogleOAuth = OAuthProvider{
	Name:   "google",
	Label:  "Google",
	Scopes: "email profile",
	QueryParams: map[string]string{
		"access_type": "offline",
		"prompt":      "consent",
	},
}

// GitHubOAuth only needs the primary email.
var GitHubOAuth = OAuthProvider{
	Name:   "github",
	Label:  "GitHub",
	Scopes: "user:email",
}

// OAuthLogin handles GET /auth/login/{provider} -- stores ?next= and a PKCE
// verifier in the session, then redirects to the provider's authorize URL.
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.OAuthProviders[chi.URLParam(r, "provider")]
	if !ok {
		NotFound(w, r)
		return
	}
	sess := h.Sessions.Session(r)

	verifier := oauth2.GenerateVerifier()
	target, err := h.Provider.AuthorizeURL(p.Name, provider.OAuthOptions{
		RedirectTo:    h.CallbackURL,
		Scopes:        p.Scopes,
		QueryParams:   p.QueryParams,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	})
	if err != nil {
		logError(r, "building authorize url failed", "provider", p.Name, "error", err)
		h.Sessions.AddFlash(sess, FlashError, p.Label+" login failed")
		h.saveAndRedirect(w, r, sess, h.Sessions.opts.LoginPath)
		return
	}

	h.Sessions.SetNext(sess, r.URL.Query().Get("next"))
	h.Sessions.SetCodeVerifier(sess, verifier)
	logDebug(r, "oauth login started", "provider", p.Name)
	h.saveAndRedirect(w, r, sess, target)
}

// OAuthCallback handles GET /auth/oauth-callback -- exchanges ?code= plus the
// stored verifier for a session. Success logs the user in with remember-me.
// Every failure ends at the login page with a flash.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	sess := h.Sessions.Session(r)
	q := r.URL.Query()
	loginPath := h.Sessions.opts.LoginPath

	// Provider reported an error (user denied consent, misconfigured app, ...).
	if errCode := q.Get("error"); errCode != "" {
		reason := q.Get("error_description")
		if reason == "" {
			reason = errCode
		}
		logInfo(r, "oauth callback carried provider error", "error", errCode, "description", reason)
		h.Sessions.PopCodeVerifier(sess)
		h.auditLog(r, "", store.ActionLoginFailed, map[string]string{"method": "oauth", "reason": errCode})
		h.Sessions.AddFlash(sess, FlashError, "Authentication failed: "+reason)
		h.saveAndRedirect(w, r, sess, loginPath)
		return
	}

	code := q.Get("code")
	if code == "" {
		logInfo(r, "oauth callback rejected", "reason", "missing_code")
		h.Sessions.AddFlash(sess, FlashError, "Authentication failed: No code received")
		h.saveAndRedirect(w, r, sess, loginPath)
		return
	}

	verifier := h.Sessions.PopCodeVerifier(sess)
	if verifier == "" {
		logWarn(r, "oauth callback without stored code verifier")
	}

	tokens, err := h.Provider.ExchangeCodeForSession(r.Context(), code, verifier)
	if err == nil && (tokens == nil || tokens.User == nil) {
		err = fmt.Errorf("exchange code: session without user: %w", provider.ErrMalformedResponse)
	}
	if err != nil {
		logProviderError(r, "exchange_code_for_session", err)
		h.auditLog(r, "", store.ActionLoginFailed, map[string]string{"method": "oauth", "reason": failureReason(err)})
		h.Sessions.AddFlash(sess, FlashError, "Authentication failed: "+userMessage(err))
		h.saveAndRedirect(w, r, sess, loginPath)
		return
	}

	next := h.Sessions.PopNext(sess)
	h.Sessions.LogIn(r, sess, tokens.User, tokens, true)
	h.Sessions.AddFlash(sess, FlashSuccess, "Login successful!")
	h.auditLog(r, tokens.User.ID, store.ActionLogin, map[string]string{"provider": tokens.User.AuthProvider()})
	logInfo(r, "user logged in", "user_id", tokens.User.ID, "method", "oauth", "provider", tokens.User.AuthProvider())
	h.notifySignIn(r, tokens.User.Email, tokens.User.AuthProvider())

	if next == "" {
		next = "/"
	}
	h.saveAndRedirect(w, r, sess, next)
}

// oauthProviderList returns the configured providers sorted by name for stable rendering.
func (h *AuthHandler) oauthProviderList() []OAuthProvider {
	list := make([]OAuthProvider, 0, len(h.OAuthProviders))
	for _, p := range h.OAuthProviders {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
