package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MGallo-Code/gatekeep/internal/captcha"
	"github.com/MGallo-Code/gatekeep/internal/testutil"
)

func TestCaptchaGate(t *testing.T) {
	t.Run("register rejected token returns 400 without calling provider", func(t *testing.T) {
		h, mp, _ := newTestHandler(t)
		h.CV = &testutil.MockCaptchaVerifier{VerifyErr: errors.New("bad token")}
		h.CaptchaCP = CaptchaPolicies{Register: true}
		w := httptest.NewRecorder()

		form := credentials("new@example.com", "pw")
		form.Set(captcha.FormField, "bad")
		h.Register(w, postForm("/auth/register", form, csrfCookie(t, h)))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status: expected 400, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Registration failed: captcha verification failed") {
			t.Error("body: expected captcha failure flash")
		}
		if mp.SignUpCalls != 0 {
			t.Errorf("SignUp calls: expected 0, got %d", mp.SignUpCalls)
		}
	})

	t.Run("register valid token proceeds and passes action", func(t *testing.T) {
		h, mp, _ := newTestHandler(t)
		cv := &testutil.MockCaptchaVerifier{}
		h.CV = cv
		h.CaptchaCP = CaptchaPolicies{Register: true}
		w := httptest.NewRecorder()

		form := credentials("new@example.com", "pw")
		form.Set(captcha.FormField, "good")
		h.Register(w, postForm("/auth/register", form, csrfCookie(t, h)))

		assertRedirect(t, w, "/")
		if mp.SignUpCalls != 1 {
			t.Errorf("SignUp calls: expected 1, got %d", mp.SignUpCalls)
		}
		if len(cv.Calls) != 1 || cv.Calls[0].Token != "good" || cv.Calls[0].Action != pageRegister {
			t.Errorf("captcha calls: got %+v", cv.Calls)
		}
	})

	t.Run("login rejected token returns 400", func(t *testing.T) {
		h, mp, _ := newTestHandler(t)
		mp.AddUser("user-1", testEmail, testPassword, "")
		h.CV = &testutil.MockCaptchaVerifier{VerifyErr: errors.New("bad token")}
		h.CaptchaCP = CaptchaPolicies{Login: true}
		w := httptest.NewRecorder()

		h.Login(w, postForm("/auth/login", credentials(testEmail, testPassword), csrfCookie(t, h)))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status: expected 400, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Login failed: captcha verification failed") {
			t.Error("body: expected captcha failure flash")
		}
		if mp.SignInCalls != 0 {
			t.Errorf("SignIn calls: expected 0, got %d", mp.SignInCalls)
		}
	})

	t.Run("policy off for a form skips the verifier", func(t *testing.T) {
		h, mp, _ := newTestHandler(t)
		mp.AddUser("user-1", testEmail, testPassword, "")
		cv := &testutil.MockCaptchaVerifier{VerifyErr: errors.New("would reject")}
		h.CV = cv
		h.CaptchaCP = CaptchaPolicies{Register: true}
		w := httptest.NewRecorder()

		h.Login(w, postForm("/auth/login", credentials(testEmail, testPassword), csrfCookie(t, h)))

		assertRedirect(t, w, "/")
		if len(cv.Calls) != 0 {
			t.Errorf("captcha calls: expected 0, got %d", len(cv.Calls))
		}
	})

	t.Run("form renders widget only when required", func(t *testing.T) {
		h, _, _ := newTestHandler(t)
		h.CV = &testutil.MockCaptchaVerifier{Key: "site-123"}
		h.CaptchaCP = CaptchaPolicies{Login: true}

		w := httptest.NewRecorder()
		withUser(h, h.LoginForm).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		if !strings.Contains(w.Body.String(), `data-sitekey="site-123"`) {
			t.Error("login form: expected turnstile widget")
		}

		w = httptest.NewRecorder()
		withUser(h, h.RegisterForm).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/register", nil))
		if strings.Contains(w.Body.String(), "cf-turnstile") {
			t.Error("register form: widget should be absent when policy is off")
		}
	})
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	if got := clientIP(r); got != "203.0.113.9" {
		t.Errorf("with port: got %q", got)
	}
	r.RemoteAddr = "203.0.113.9"
	if got := clientIP(r); got != "203.0.113.9" {
		t.Errorf("bare: got %q", got)
	}
}
