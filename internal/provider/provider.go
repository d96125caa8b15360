// provider.go -- Identity provider response types and errors.
package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse is returned when the provider answers 2xx but the body
// can't be decoded or is missing required fields (e.g. no user id).
var ErrMalformedResponse = errors.New("malformed provider response")

// APIError is a non-2xx response from the provider: bad credentials, unknown
// user, expired token, invalid auth code, etc.
// Message is the provider's human readable reason and is safe to show to users.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// IsRejection reports whether err is the provider refusing the request, as
// opposed to the provider being unreachable or answering garbage.
// Both look the same to users; only logging treats them differently.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// AppMetadata is the provider-managed metadata attached to a user.
// Provider is nil when the provider omits it.
type AppMetadata struct {
	Provider  *string  `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// User is an identity as reported by the provider.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AppMetadata  *AppMetadata   `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

// DefaultAuthProvider is the tag used when the provider doesn't say how the user signed in.
const DefaultAuthProvider = "email"

// AuthProvider returns the sign-in method tag from app metadata, or
// DefaultAuthProvider when metadata or the tag is absent.
func (u *User) AuthProvider() string {
	if u == nil || u.AppMetadata == nil || u.AppMetadata.Provider == nil || *u.AppMetadata.Provider == "" {
		return DefaultAuthProvider
	}
	return *u.AppMetadata.Provider
}

// Session is the token set the provider issues on a successful sign-in or code exchange.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

// OAuthOptions controls the provider's authorize redirect.
// Scopes is space separated, matching what the provider forwards to the upstream IdP.
type OAuthOptions struct {
	RedirectTo    string
	Scopes        string
	QueryParams   map[string]string
	CodeChallenge string // S256 PKCE challenge; the verifier is sent on exchange
}
