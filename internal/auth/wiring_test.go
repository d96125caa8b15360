package auth

// wiring_test.go
//
// Catches bugs where handlers and middleware hand session state to each other incorrectly.
//
// Runs a real chi router over httptest.NewServer with a cookie jar, so every step
// goes through cookie encoding exactly like a browser:
//
//   - Register:  GET form (CSRF issued) -> POST register -> LoadUser sees the new user
//   - Guard:     RequireAuth -> login form carries next -> POST login -> back to next
//   - Logout:    Logout clears tokens -> RequireAuth blocks again
//   - OAuth:     OAuthLogin stores verifier -> OAuthCallback consumes it
//

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/MGallo-Code/gatekeep/internal/testutil"
	"github.com/go-chi/chi/v5"
)

// --- Seam test helpers ---

var csrfFieldRe = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

// newWiringServer mounts h the way main.go does and returns a server plus a
// jar-backed client that does not follow redirects.
func newWiringServer(t *testing.T, h *AuthHandler) (*httptest.Server, *http.Client) {
	t.Helper()
	r := chi.NewRouter()
	r.Use(h.Sessions.LoadUser)
	r.Get("/", h.Index)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/register", h.RegisterForm)
		r.Post("/register", h.Register)
		r.Get("/login", h.LoginForm)
		r.Post("/login", h.Login)
		r.Get("/login/{provider}", h.OAuthLogin)
		r.Get("/oauth-callback", h.OAuthCallback)
		r.Group(func(r chi.Router) {
			r.Use(h.Sessions.RequireAuth)
			r.Get("/logout", h.Logout)
			r.Get("/profile", h.Profile)
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return srv, client
}

// get issues GET path and returns status, Location and body.
func get(t *testing.T, c *http.Client, srv *httptest.Server, path string) (int, string, string) {
	t.Helper()
	resp, err := c.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header.Get("Location"), string(body)
}

// submit fetches formPath, copies its CSRF token into form and posts it to postPath.
func submit(t *testing.T, c *http.Client, srv *httptest.Server, formPath, postPath string, form url.Values) (int, string, string) {
	t.Helper()
	_, _, page := get(t, c, srv, formPath)
	m := csrfFieldRe.FindStringSubmatch(page)
	if m == nil {
		t.Fatalf("no csrf field on %s", formPath)
	}
	form.Set("csrf_token", m[1])
	resp, err := c.PostForm(srv.URL+postPath, form)
	if err != nil {
		t.Fatalf("POST %s: %v", postPath, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header.Get("Location"), string(body)
}

// --- Flows ---

func TestWiringRegisterProfileLogout(t *testing.T) {
	h, mp, _ := newTestHandler(t)
	srv, c := newWiringServer(t, h)

	status, loc, _ := submit(t, c, srv, "/auth/register", "/auth/register",
		url.Values{"email": {"bob@example.com"}, "password": {"pw-123"}})
	if status != http.StatusFound || loc != "/" {
		t.Fatalf("register: expected 302 to /, got %d %q", status, loc)
	}

	status, _, body := get(t, c, srv, "/")
	if status != http.StatusOK || !strings.Contains(body, "Registration successful!") {
		t.Errorf("home: expected success flash, got %d", status)
	}
	if !strings.Contains(body, "Signed in as bob@example.com") {
		t.Error("home: expected signed-in user after registration")
	}

	// Flash is render-once.
	_, _, body = get(t, c, srv, "/")
	if strings.Contains(body, "Registration successful!") {
		t.Error("flash shown twice")
	}

	status, _, body = get(t, c, srv, "/auth/profile")
	if status != http.StatusOK || !strings.Contains(body, "bob@example.com") {
		t.Errorf("profile: expected 200 with email, got %d", status)
	}

	status, loc, _ = get(t, c, srv, "/auth/logout")
	if status != http.StatusFound || loc != "/auth/login" {
		t.Fatalf("logout: expected 302 to /auth/login, got %d %q", status, loc)
	}
	if len(mp.SignOutTokens) != 1 {
		t.Errorf("logout: expected one provider sign-out, got %d", len(mp.SignOutTokens))
	}

	status, loc, _ = get(t, c, srv, "/auth/profile")
	if status != http.StatusFound || loc != "/auth/login?next=%2Fauth%2Fprofile" {
		t.Errorf("profile after logout: expected redirect to login, got %d %q", status, loc)
	}
}

func TestWiringGuardNextRoundTrip(t *testing.T) {
	h, mp, _ := newTestHandler(t)
	mp.AddUser("user-1", testEmail, testPassword, "")
	srv, c := newWiringServer(t, h)

	status, loc, _ := get(t, c, srv, "/auth/profile")
	if status != http.StatusFound {
		t.Fatalf("profile: expected 302, got %d", status)
	}

	_, _, page := get(t, c, srv, loc)
	if !strings.Contains(page, "Please log in to access this page.") {
		t.Error("login page: expected guard flash")
	}

	status, loc, _ = submit(t, c, srv, loc, loc, url.Values{"email": {testEmail}, "password": {testPassword}})
	if status != http.StatusFound || loc != "/auth/profile" {
		t.Fatalf("login: expected 302 to /auth/profile, got %d %q", status, loc)
	}

	status, _, _ = get(t, c, srv, loc)
	if status != http.StatusOK {
		t.Errorf("profile after login: expected 200, got %d", status)
	}

	// Logged-in users are bounced off the login form.
	status, loc, _ = get(t, c, srv, "/auth/login")
	if status != http.StatusFound || loc != "/" {
		t.Errorf("login form while logged in: expected 302 to /, got %d %q", status, loc)
	}
}

func TestWiringOAuthRoundTrip(t *testing.T) {
	h, mp, _ := newTestHandler(t)
	srv, c := newWiringServer(t, h)

	status, loc, _ := get(t, c, srv, "/auth/login/google?next=%2Fauth%2Fprofile")
	if status != http.StatusFound || !strings.HasPrefix(loc, "https://provider.test/") {
		t.Fatalf("oauth start: expected redirect to provider, got %d %q", status, loc)
	}

	tag := "google"
	user := mp.AddUser("user-g", "g@example.com", "", tag)
	mp.AddCode("code-1", user)

	status, loc, _ = get(t, c, srv, "/auth/oauth-callback?code=code-1")
	if status != http.StatusFound || loc != "/auth/profile" {
		t.Fatalf("callback: expected 302 to /auth/profile, got %d %q", status, loc)
	}
	if mp.ExchangeCalls[0].Verifier == "" {
		t.Error("callback should pass the verifier stored at start")
	}

	_, _, body := get(t, c, srv, "/auth/profile")
	if !strings.Contains(body, "google") {
		t.Error("profile: expected google as auth provider")
	}

	// Replaying the callback finds no verifier and an already-used code.
	status, loc, _ = get(t, c, srv, "/auth/oauth-callback?code=code-1")
	if status != http.StatusFound || loc != "/auth/login" {
		t.Errorf("replay: expected 302 to /auth/login, got %d %q", status, loc)
	}
}

func TestWiringProviderDownIsAnonymous(t *testing.T) {
	h, mp, _ := newTestHandler(t)
	mp.AddUser("user-1", testEmail, testPassword, "")
	srv, c := newWiringServer(t, h)

	status, _, _ := submit(t, c, srv, "/auth/login", "/auth/login", url.Values{"email": {testEmail}, "password": {testPassword}})
	if status != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", status)
	}

	mp.GetUserErr = testutil.ErrUnavailable

	status, _, body := get(t, c, srv, "/")
	if status != http.StatusOK {
		t.Errorf("home: expected 200 while provider is down, got %d", status)
	}
	if strings.Contains(body, "Signed in as") {
		t.Error("home: user should resolve as anonymous while provider is down")
	}
}
