// client.go -- HTTP client for a Supabase/GoTrue compatible auth API.
//
// Every method makes exactly one request. No retries: a failed call surfaces
// to the handler, which turns it into a flash message + redirect.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every outbound call when the caller doesn't pick one.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// Client talks to the provider's /auth/v1 endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient returns a Client for the project at baseURL (e.g. https://xyz.supabase.co)
// authenticating with the project's public anon key.
// timeout <= 0 falls back to DefaultTimeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SignUp creates an account. The returned session is nil when the provider
// requires email confirmation before issuing tokens.
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (*User, *Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(data) > 0 {
		body["data"] = data
	}

	// Response is a session when autoconfirm is on, a bare user otherwise.
	var resp struct {
		Session
		User
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", body, &resp); err != nil {
		return nil, nil, fmt.Errorf("sign up: %w", err)
	}

	if resp.AccessToken != "" {
		sess := resp.Session
		if sess.User == nil || sess.User.ID == "" {
			return nil, nil, fmt.Errorf("sign up: session without user: %w", ErrMalformedResponse)
		}
		return sess.User, &sess, nil
	}
	if resp.User.ID == "" {
		return nil, nil, fmt.Errorf("sign up: missing user id: %w", ErrMalformedResponse)
	}
	user := resp.User
	return &user, nil, nil
}

// SignInWithPassword exchanges email + password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	q := url.Values{"grant_type": {"password"}}
	var sess Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, fmt.Errorf("sign in with password: %w", err)
	}
	if err := validSession(&sess); err != nil {
		return nil, fmt.Errorf("sign in with password: %w", err)
	}
	return &sess, nil
}

// AuthorizeURL builds the provider URL that starts an OAuth flow with the named
// upstream IdP ("google", "github"). Makes no request.
func (c *Client) AuthorizeURL(name string, opts OAuthOptions) (string, error) {
	if name == "" {
		return "", fmt.Errorf("authorize url: provider name required")
	}
	u, err := url.Parse(c.baseURL + "/auth/v1/authorize")
	if err != nil {
		return "", fmt.Errorf("authorize url: %w", err)
	}

	q := url.Values{}
	// Extra params first so they can't override the fields below.
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	q.Set("provider", name)
	if opts.RedirectTo != "" {
		q.Set("redirect_to", opts.RedirectTo)
	}
	if opts.Scopes != "" {
		q.Set("scopes", opts.Scopes)
	}
	if opts.CodeChallenge != "" {
		q.Set("code_challenge", opts.CodeChallenge)
		q.Set("code_challenge_method", "s256")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExchangeCodeForSession trades the auth code from the OAuth callback for a session.
// codeVerifier must be the PKCE verifier whose challenge went into AuthorizeURL.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error) {
	q := url.Values{"grant_type": {"pkce"}}
	var sess Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", map[string]string{
		"auth_code":     code,
		"code_verifier": codeVerifier,
	}, &sess)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if err := validSession(&sess); err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return &sess, nil
}

// GetUser resolves an access token to the user it was issued for.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("get user: missing user id: %w", ErrMalformedResponse)
	}
	return &user, nil
}

// SignOut revokes the refresh tokens behind accessToken on the provider.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// CheckHealth pings the provider's health endpoint.
func (c *Client) CheckHealth(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/auth/v1/health", nil, "", nil, nil); err != nil {
		return fmt.Errorf("provider health: %w", err)
	}
	return nil
}

// validSession checks the fields every session response must carry.
func validSession(s *Session) error {
	if s.AccessToken == "" {
		return fmt.Errorf("missing access token: %w", ErrMalformedResponse)
	}
	if s.User == nil || s.User.ID == "" {
		return fmt.Errorf("missing user: %w", ErrMalformedResponse)
	}
	return nil
}

// do sends one JSON request and decodes a 2xx body into out (skipped when out is nil).
// bearer defaults to the anon key when empty.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %v: %w", err, ErrMalformedResponse)
	}
	return nil
}

// decodeAPIError understands both error shapes the provider uses:
// {"code":400,"error_code":"...","msg":"..."} and {"error":"...","error_description":"..."}.
func decodeAPIError(status int, raw []byte) *APIError {
	var body struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = http.StatusText(status)
		return apiErr
	}

	apiErr.Code = body.ErrorCode
	if apiErr.Code == "" {
		apiErr.Code = body.Error
	}
	switch {
	case body.Msg != "":
		apiErr.Message = body.Msg
	case body.ErrorDescription != "":
		apiErr.Message = body.ErrorDescription
	case body.Message != "":
		apiErr.Message = body.Message
	case body.Error != "":
		apiErr.Message = body.Error
	default:
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
