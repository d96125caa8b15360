// gotrue.go
//
// In-memory stand-in for the identity provider's REST API, served over httptest.
// Lets smoke and e2e tests drive the real provider.Client end to end.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/MGallo-Code/gatekeep/internal/provider"
	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
)

// FakeGoTrue serves /auth/v1/* from memory.
// Accounts sign up with autoconfirm on; OAuth codes are seeded with AddCode.
type FakeGoTrue struct {
	Server *httptest.Server
	APIKey string

	mu       sync.Mutex
	accounts map[string]string         // email -> password
	users    map[string]*provider.User // email -> user
	tokens   map[string]*provider.User // access token -> user
	codes    map[string]pkceGrant      // auth code -> grant
	issued   int

	// Requests counts calls per "METHOD path".
	Requests map[string]int
}

type pkceGrant struct {
	user      *provider.User
	challenge string // empty skips verifier check
}

// NewFakeGoTrue starts a fake provider; closed on test cleanup.
func NewFakeGoTrue(t *testing.T) *FakeGoTrue {
	t.Helper()
	f := StartFakeGoTrue()
	t.Cleanup(f.Close)
	return f
}

// StartFakeGoTrue starts a fake provider outside a test (e.g. from TestMain).
// Caller must Close it.
func StartFakeGoTrue() *FakeGoTrue {
	f := &FakeGoTrue{
		APIKey:   "test-anon-key",
		accounts: make(map[string]string),
		users:    make(map[string]*provider.User),
		tokens:   make(map[string]*provider.User),
		codes:    make(map[string]pkceGrant),
		Requests: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(f.countAndCheckKey)
	r.Route("/auth/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"name": "GoTrue"})
		})
		r.Post("/signup", f.signUp)
		r.Post("/token", f.token)
		r.Get("/user", f.user)
		r.Post("/logout", f.logout)
	})

	f.Server = httptest.NewServer(r)
	return f
}

// Close shuts the server down.
func (f *FakeGoTrue) Close() {
	f.Server.Close()
}

// URL returns the base URL to hand to provider.NewClient.
func (f *FakeGoTrue) URL() string {
	return f.Server.URL
}

// AddUser seeds a confirmed account.
func (f *FakeGoTrue) AddUser(id, email, password string) *provider.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := provider.DefaultAuthProvider
	u := &provider.User{ID: id, Email: email, AppMetadata: &provider.AppMetadata{Provider: &tag, Providers: []string{tag}}}
	f.accounts[email] = password
	f.users[email] = u
	return u
}

// AddCode makes code exchangeable for a session of a new OAuth user. When
// verifier is non-empty the exchange must present it.
func (f *FakeGoTrue) AddCode(code, verifier, id, email, authProvider string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &provider.User{ID: id, Email: email, AppMetadata: &provider.AppMetadata{Provider: &authProvider, Providers: []string{authProvider}}}
	g := pkceGrant{user: u}
	if verifier != "" {
		g.challenge = oauth2.S256ChallengeFromVerifier(verifier)
	}
	f.codes[code] = g
}

// RequestCount returns how many times "METHOD path" was hit.
func (f *FakeGoTrue) RequestCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Requests[key]
}

func (f *FakeGoTrue) countAndCheckKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.Requests[r.Method+" "+r.URL.Path]++
		f.mu.Unlock()
		if r.Header.Get("apikey") != f.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGoTrue) signUp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "Signup requires a valid password")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.accounts[in.Email]; exists {
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	f.issued++
	tag := provider.DefaultAuthProvider
	u := &provider.User{
		ID:          "00000000-0000-4000-8000-" + pad12(f.issued),
		Email:       in.Email,
		AppMetadata: &provider.AppMetadata{Provider: &tag, Providers: []string{tag}},
	}
	f.accounts[in.Email] = in.Password
	f.users[in.Email] = u
	writeJSON(w, http.StatusOK, f.newSessionLocked(u))
}

func (f *FakeGoTrue) token(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		if stored, ok := f.accounts[in.Email]; !ok || stored != in.Password {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, f.newSessionLocked(f.users[in.Email]))

	case "pkce":
		var in struct {
			AuthCode     string `json:"auth_code"`
			CodeVerifier string `json:"code_verifier"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		g, ok := f.codes[in.AuthCode]
		if !ok || (g.challenge != "" && oauth2.S256ChallengeFromVerifier(in.CodeVerifier) != g.challenge) {
			writeError(w, http.StatusNotFound, "flow_state_not_found", "invalid flow state, no valid flow state found")
			return
		}
		delete(f.codes, in.AuthCode)
		writeJSON(w, http.StatusOK, f.newSessionLocked(g.user))

	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (f *FakeGoTrue) user(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.tokens[bearer(r)]
	if !ok {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (f *FakeGoTrue) logout(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, bearer(r))
	w.WriteHeader(http.StatusNoContent)
}

// newSessionLocked issues a token pair for u. Caller holds mu.
func (f *FakeGoTrue) newSessionLocked(u *provider.User) provider.Session {
	f.issued++
	n := strconv.Itoa(f.issued)
	access := "jwt-" + u.ID + "-" + n
	f.tokens[access] = u
	return provider.Session{
		AccessToken:  access,
		RefreshToken: "rt-" + n,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		User:         u,
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func pad12(n int) string {
	s := strconv.Itoa(n)
	return strings.Repeat("0", 12-len(s)) + s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}
