// notify.go -- Optional "new sign-in" email after a successful login.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatekeep/internal/mail"
)

// SignInNotifier sends sign-in alerts.
// Satisfied by *mail.SMTPMailer and *mail.QueuedMailer.
type SignInNotifier interface {
	SendSignInAlert(ctx context.Context, toEmail string, alert mail.SignInAlert) error
}

// notifySignIn sends an alert for a completed login when a notifier is configured.
// Failures are logged, never shown to the user.
func (h *AuthHandler) notifySignIn(r *http.Request, email, method string) {
	if h.Mailer == nil || email == "" {
		return
	}
	alert := mail.SignInAlert{
		Method:    method,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		At:        time.Now().UTC(),
	}
	if err := h.Mailer.SendSignInAlert(r.Context(), email, alert); err != nil {
		logWarn(r, "failed to send sign-in alert", "error", err)
	}
}
