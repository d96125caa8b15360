// mailer.go
//
// Shared mock implementation of auth.SignInNotifier.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/gatekeep/internal/mail"
)

// MockMailer records sign-in alerts instead of sending them.
// Set SendErr to make every send fail.
type MockMailer struct {
	SendErr error

	// Recipients and Alerts are parallel, in send order.
	Recipients []string
	Alerts     []mail.SignInAlert

	mu sync.Mutex
}

func (m *MockMailer) SendSignInAlert(_ context.Context, toEmail string, alert mail.SignInAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Recipients = append(m.Recipients, toEmail)
	m.Alerts = append(m.Alerts, alert)
	return nil
}
