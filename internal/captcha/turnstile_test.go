// turnstile_test.go -- unit tests for Turnstile.Verify.
package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestTurnstile points a verifier at a stub siteverify server answering body.
// The last request form is captured into got.
func newTestTurnstile(t *testing.T, status int, body string, got *map[string]string) *Turnstile {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			r.ParseForm()
			*got = map[string]string{
				"secret":   r.PostForm.Get("secret"),
				"response": r.PostForm.Get("response"),
				"remoteip": r.PostForm.Get("remoteip"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	v := NewTurnstile("site-key", "test-secret")
	v.endpoint = srv.URL
	return v
}

func TestTurnstileVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("success response returns nil and sends secret", func(t *testing.T) {
		var form map[string]string
		v := newTestTurnstile(t, http.StatusOK, `{"success":true,"action":"login"}`, &form)

		if err := v.Verify(ctx, "token", "127.0.0.1", "login"); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if form["secret"] != "test-secret" || form["response"] != "token" || form["remoteip"] != "127.0.0.1" {
			t.Errorf("siteverify form: got %v", form)
		}
	})

	t.Run("empty token short-circuits", func(t *testing.T) {
		v := NewTurnstile("site-key", "test-secret")
		v.endpoint = "http://127.0.0.1:0" // never dialled

		if err := v.Verify(ctx, "", "127.0.0.1", "login"); !errors.Is(err, ErrMissingToken) {
			t.Errorf("expected ErrMissingToken, got %v", err)
		}
	})

	t.Run("rejected token wraps ErrRejected with error codes", func(t *testing.T) {
		v := newTestTurnstile(t, http.StatusOK, `{"success":false,"error-codes":["invalid-input-response"]}`, nil)

		err := v.Verify(ctx, "bad-token", "127.0.0.1", "")
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}
		if !strings.Contains(err.Error(), "invalid-input-response") {
			t.Errorf("expected error to mention error code, got %q", err.Error())
		}
	})

	t.Run("token minted for another form is rejected", func(t *testing.T) {
		v := newTestTurnstile(t, http.StatusOK, `{"success":true,"action":"register"}`, nil)

		if err := v.Verify(ctx, "token", "", "login"); !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})

	t.Run("non-200 returns error", func(t *testing.T) {
		v := newTestTurnstile(t, http.StatusInternalServerError, `oops`, nil)

		err := v.Verify(ctx, "token", "", "")
		if err == nil || errors.Is(err, ErrRejected) {
			t.Errorf("expected transport error, got %v", err)
		}
	})

	t.Run("network error returns error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // closed before request is sent

		v := NewTurnstile("site-key", "test-secret")
		v.endpoint = srv.URL
		if err := v.Verify(ctx, "token", "127.0.0.1", ""); err == nil {
			t.Error("expected non-nil error, got nil")
		}
	})

	t.Run("malformed JSON returns error", func(t *testing.T) {
		v := newTestTurnstile(t, http.StatusOK, `not json`, nil)

		if err := v.Verify(ctx, "token", "127.0.0.1", ""); err == nil {
			t.Error("expected non-nil error, got nil")
		}
	})
}

func TestSiteKey(t *testing.T) {
	if got := NewTurnstile("abc", "secret").SiteKey(); got != "abc" {
		t.Errorf("SiteKey: expected %q, got %q", "abc", got)
	}
}
