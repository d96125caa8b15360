// responses.go -- Package-wide HTTP response helpers.
//
// Every auth flow ends in one of these: a rendered page, a redirect, or a
// generic error page. Provider error details never reach the page except the
// provider's own user-facing message (see userMessage).
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/gorilla/sessions"
)

// unavailableMessage is shown when the provider can't be reached or answers garbage.
const unavailableMessage = "the authentication service is unavailable, please try again later"

// render drains flashes, attaches the current user (and a CSRF token for form
// pages), saves the session, then writes the page with status.
func (h *AuthHandler) render(w http.ResponseWriter, r *http.Request, sess *sessions.Session, status int, page string, data PageData) {
	data.User, _ = UserFromContext(r.Context())
	data.Flashes = h.Sessions.Flashes(sess)

	if page == pageLogin || page == pageRegister {
		tok, err := h.Sessions.CSRFToken(sess)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		data.CSRFToken = tok
	}
	if page == pageLogin {
		data.OAuthProviders = h.oauthProviderList()
	}
	if h.captchaRequired(page) {
		data.CaptchaSiteKey = h.CV.SiteKey()
	}

	var buf bytes.Buffer
	if err := h.Views.Render(&buf, page, data); err != nil {
		InternalServerError(w, r, err)
		return
	}

	// Anonymous first visits to pages without forms don't need a session on disk.
	if !sess.IsNew || len(sess.Values) > 0 {
		if err := h.Sessions.Save(w, r, sess); err != nil {
			logWarn(r, "failed to save session", "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// saveAndRedirect saves the session and redirects with 302.
// A failed save is logged; the redirect still happens.
func (h *AuthHandler) saveAndRedirect(w http.ResponseWriter, r *http.Request, sess *sessions.Session, target string) {
	if err := h.Sessions.Save(w, r, sess); err != nil {
		logWarn(r, "failed to save session", "error", err)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// forbidden renders the error page with 403. Used for CSRF failures.
func (h *AuthHandler) forbidden(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	h.render(w, r, sess, http.StatusForbidden, pageError, PageData{
		Title:   "Forbidden",
		Message: "Your form expired or was submitted from another site. Reload the page and try again.",
	})
}

// InternalServerError logs the error and writes a generic 500.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// NotFound writes a plain 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

// writeJSON encodes v with status. Used by the health endpoint only.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// userMessage turns a provider error into text safe to flash: the provider's
// own message for rejections, a generic line for everything else.
func userMessage(err error) string {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return unavailableMessage
}

// logProviderError logs rejections at info and infrastructure failures at error.
// Both look identical to the user.
func logProviderError(r *http.Request, op string, err error) {
	if provider.IsRejection(err) {
		logInfo(r, "provider rejected request", "op", op, "error", err)
		return
	}
	logError(r, "provider call failed", "op", op, "error", err)
}
