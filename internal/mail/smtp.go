// smtp.go
//
// Mailer interface and SMTPMailer implementation for account security notices.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"regexp"
	"strings"
	"time"
)

// Mailer sends account security notifications.
type Mailer interface {
	// SendSignInAlert tells toEmail that their account was just signed in to,
	// with where from and how, plus a link to review recent activity.
	SendSignInAlert(ctx context.Context, toEmail string, alert SignInAlert) error
}

// SignInAlert describes one successful sign-in.
type SignInAlert struct {
	Method    string    `json:"method"` // "password", "google", "github"
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
	ActivityURL string // page listing recent sign-ins, linked from alerts
}

// SMTPMailer sends transactional email via SMTP.
// Compatible with any SMTP provider: SES, Mailgun, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

const signInAlertBody = "Your account %%toEmail%% was just signed in to.\n\n" +
	"When:    %%at%%\n" +
	"Method:  %%method%%\n" +
	"From:    %%ipAddress%%\n" +
	"Browser: %%userAgent%%\n\n" +
	"If this was you, there is nothing to do. If not, review your recent activity:\n\n" +
	"%%url%%\n"

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}

// headerSafe drops CR and LF so a value can't start a new header line.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// orUnknown returns s, or "unknown" when s is blank.
func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// signInAlertMessage renders the full RFC 5322 message for alert.
func (m *SMTPMailer) signInAlertMessage(toEmail string, alert SignInAlert) string {
	at := alert.At
	if at.IsZero() {
		at = time.Now()
	}
	vars := map[string]string{
		"toEmail":   headerSafe(toEmail),
		"at":        at.UTC().Format("2006-01-02 15:04 MST"),
		"method":    orUnknown(alert.Method),
		"ipAddress": orUnknown(alert.IPAddress),
		"userAgent": orUnknown(headerSafe(alert.UserAgent)),
		"url":       m.cfg.ActivityURL,
	}

	return "From: " + headerSafe(m.cfg.FromAddress) + "\r\n" +
		"To: " + headerSafe(toEmail) + "\r\n" +
		"Subject: New sign-in to your account\r\n" +
		"Date: " + at.Format(time.RFC1123Z) + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		applyVars(signInAlertBody, vars)
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext sessions),
// authenticates, and delivers msg. The connection respects ctx cancellation.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	// Enforce STARTTLS -- reject the session if server does not advertise it.
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

// SendSignInAlert emails a new sign-in notice to toEmail.
func (m *SMTPMailer) SendSignInAlert(ctx context.Context, toEmail string, alert SignInAlert) error {
	if err := m.sendMail(ctx, toEmail, m.signInAlertMessage(toEmail, alert)); err != nil {
		return fmt.Errorf("sending sign-in alert: %w", err)
	}
	return nil
}
