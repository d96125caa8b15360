// captcha.go
//
// Shared mock implementation of auth.CaptchaVerifier.
package testutil

import (
	"context"
	"sync"
)

// MockCaptchaVerifier implements auth.CaptchaVerifier for tests.
// Set VerifyErr to reject every token; calls are recorded.
type MockCaptchaVerifier struct {
	Key       string
	VerifyErr error

	Calls []CaptchaCall

	mu sync.Mutex
}

// CaptchaCall is one recorded Verify call.
type CaptchaCall struct {
	Token    string
	RemoteIP string
	Action   string
}

func (m *MockCaptchaVerifier) SiteKey() string {
	if m.Key == "" {
		return "test-site-key"
	}
	return m.Key
}

func (m *MockCaptchaVerifier) Verify(_ context.Context, token, remoteIP, action string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, CaptchaCall{Token: token, RemoteIP: remoteIP, Action: action})
	m.mu.Unlock()
	return m.VerifyErr
}
