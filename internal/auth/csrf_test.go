// csrf_test.go

// unit tests for CSRF token generation and validation.
package auth

import (
	"encoding/base64"
	"testing"
)

// --- GenerateCSRFToken ---

func TestGenerateCSRFToken(t *testing.T) {
	t.Run("decodes to 32 bytes", func(t *testing.T) {
		tok, err := GenerateCSRFToken()
		if err != nil {
			t.Fatalf("GenerateCSRFToken returned error: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(raw))
		}
	})

	t.Run("unique per call", func(t *testing.T) {
		a, _ := GenerateCSRFToken()
		b, _ := GenerateCSRFToken()
		if a == b {
			t.Error("two tokens should differ")
		}
	})
}

// --- CSRFToken / ValidCSRFToken ---

func TestCSRFToken(t *testing.T) {
	t.Run("created once per session", func(t *testing.T) {
		m, _ := newTestManager(SessionOptions{})
		_, sess := freshSession(m)

		first, err := m.CSRFToken(sess)
		if err != nil {
			t.Fatalf("CSRFToken returned error: %v", err)
		}
		second, _ := m.CSRFToken(sess)
		if first != second {
			t.Error("token should be stable within a session")
		}
		if sess.Values[keyCSRFToken] != first {
			t.Error("token should be stored in the session")
		}
	})

	t.Run("validation", func(t *testing.T) {
		m, _ := newTestManager(SessionOptions{})
		_, sess := freshSession(m)
		tok, _ := m.CSRFToken(sess)

		if !m.ValidCSRFToken(sess, tok) {
			t.Error("matching token should validate")
		}
		if m.ValidCSRFToken(sess, tok+"x") {
			t.Error("different token should fail")
		}
		if m.ValidCSRFToken(sess, "") {
			t.Error("empty token should fail")
		}
	})

	t.Run("session without token rejects everything", func(t *testing.T) {
		m, _ := newTestManager(SessionOptions{})
		_, sess := freshSession(m)

		if m.ValidCSRFToken(sess, "") {
			t.Error("empty vs empty should fail")
		}
		if m.ValidCSRFToken(sess, "anything") {
			t.Error("missing stored token should fail")
		}
	})
}
