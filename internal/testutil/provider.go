// provider.go
//
// Shared mock implementation of auth.Provider.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/MGallo-Code/gatekeep/internal/provider"
)

// ErrInvalidCredentials mirrors the provider's 400 on a bad email/password pair.
var ErrInvalidCredentials = &provider.APIError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}

// ErrUnavailable stands in for a network failure reaching the provider.
var ErrUnavailable = errors.New("dial tcp: connection refused")

// MockProvider implements auth.Provider for tests.

// Always stateful...Accounts maps email -> password and Tokens maps access token -> user,
// like a real provider. Use *Err fields to inject errors for specific operations.
// Calls are recorded so tests can assert what reached the provider.
type MockProvider struct {
	// Error injection...zero value means no error
	SignUpErr       error
	SignInErr       error
	AuthorizeURLErr error
	ExchangeErr     error
	GetUserErr      error
	SignOutErr      error

	// RequireConfirmation makes SignUp return a user without a session.
	RequireConfirmation bool

	Accounts map[string]string         // email -> password
	Users    map[string]*provider.User // email -> user
	Tokens   map[string]*provider.User // access token -> user
	Codes    map[string]*provider.User // OAuth auth code -> user

	// Recorded calls
	SignUpCalls    int
	SignInCalls    int
	ExchangeCalls  []ExchangeCall
	AuthorizeCalls []AuthorizeCall
	SignOutTokens  []string

	issued int
	mu     sync.Mutex
}

// ExchangeCall records one ExchangeCodeForSession call.
type ExchangeCall struct {
	Code     string
	Verifier string
}

// AuthorizeCall records one AuthorizeURL call.
type AuthorizeCall struct {
	Provider string
	Opts     provider.OAuthOptions
}

// NewMockProvider returns an empty MockProvider ready for use.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Accounts: make(map[string]string),
		Users:    make(map[string]*provider.User),
		Tokens:   make(map[string]*provider.User),
		Codes:    make(map[string]*provider.User),
	}
}

// AddUser seeds an account and returns its user. authProvider "" leaves app metadata unset.
func (m *MockProvider) AddUser(id, email, password, authProvider string) *provider.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &provider.User{ID: id, Email: email}
	if authProvider != "" {
		u.AppMetadata = &provider.AppMetadata{Provider: &authProvider, Providers: []string{authProvider}}
	}
	m.Accounts[email] = password
	m.Users[email] = u
	return u
}

// IssueToken makes token resolve to user and returns token.
func (m *MockProvider) IssueToken(token string, user *provider.User) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tokens[token] = user
	return token
}

// AddCode makes an OAuth auth code exchangeable for user.
func (m *MockProvider) AddCode(code string, user *provider.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Codes[code] = user
}

func (m *MockProvider) SignUp(_ context.Context, email, password string, _ map[string]any) (*provider.User, *provider.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignUpCalls++
	if m.SignUpErr != nil {
		return nil, nil, m.SignUpErr
	}
	if _, exists := m.Accounts[email]; exists {
		return nil, nil, &provider.APIError{Status: 422, Code: "user_already_exists", Message: "User already registered"}
	}
	u := &provider.User{ID: "user-" + email, Email: email}
	m.Accounts[email] = password
	m.Users[email] = u
	if m.RequireConfirmation {
		return u, nil, nil
	}
	return u, m.newSession(u), nil
}

func (m *MockProvider) SignInWithPassword(_ context.Context, email, password string) (*provider.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignInCalls++
	if m.SignInErr != nil {
		return nil, m.SignInErr
	}
	stored, ok := m.Accounts[email]
	if !ok || stored != password {
		return nil, ErrInvalidCredentials
	}
	return m.newSession(m.Users[email]), nil
}

func (m *MockProvider) AuthorizeURL(name string, opts provider.OAuthOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthorizeCalls = append(m.AuthorizeCalls, AuthorizeCall{Provider: name, Opts: opts})
	if m.AuthorizeURLErr != nil {
		return "", m.AuthorizeURLErr
	}
	q := url.Values{}
	q.Set("provider", name)
	q.Set("redirect_to", opts.RedirectTo)
	q.Set("code_challenge", opts.CodeChallenge)
	return "https://provider.test/auth/v1/authorize?" + q.Encode(), nil
}

func (m *MockProvider) ExchangeCodeForSession(_ context.Context, code, codeVerifier string) (*provider.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExchangeCalls = append(m.ExchangeCalls, ExchangeCall{Code: code, Verifier: codeVerifier})
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	u, ok := m.Codes[code]
	if !ok {
		return nil, &provider.APIError{Status: 400, Code: "flow_state_not_found", Message: "invalid flow state, no valid flow state found"}
	}
	delete(m.Codes, code)
	return m.newSession(u), nil
}

func (m *MockProvider) GetUser(_ context.Context, accessToken string) (*provider.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	u, ok := m.Tokens[accessToken]
	if !ok {
		return nil, &provider.APIError{Status: 401, Code: "bad_jwt", Message: "invalid JWT"}
	}
	return u, nil
}

func (m *MockProvider) SignOut(_ context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignOutTokens = append(m.SignOutTokens, accessToken)
	if m.SignOutErr != nil {
		return m.SignOutErr
	}
	delete(m.Tokens, accessToken)
	return nil
}

// newSession issues a fresh token pair for u. Caller holds mu.
func (m *MockProvider) newSession(u *provider.User) *provider.Session {
	m.issued++
	n := strconv.Itoa(m.issued)
	access := "access-" + u.ID + "-" + n
	m.Tokens[access] = u
	return &provider.Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + u.ID + "-" + n,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		User:         u,
	}
}
