// models.go -- Shared types and errors for the store package.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrSessionNotFound is returned by the Redis session store when the cookie
// references a session that has expired or was deleted.
// Callers use errors.Is to tell it apart from a Redis infrastructure failure.
var ErrSessionNotFound = errors.New("session not found")

// ErrStoreDisabled is returned by optional stores (audit log) when they aren't configured.
var ErrStoreDisabled = errors.New("store disabled")

// AuditEntry represents a row in the audit_logs table.
// UserID is the provider's user id; nil for failures where no user is identified.
// Metadata holds optional event context as a raw JSON blob (e.g. provider, reason).
type AuditEntry struct {
	ID        uuid.UUID
	UserID    *string
	Action    string
	IPAddress *string
	UserAgent *string
	Metadata  []byte
	CreatedAt time.Time
}

// Audit actions written by the auth handlers.
const (
	ActionRegistered     = "user.registered"
	ActionRegisterFailed = "user.register_failed"
	ActionLogin          = "user.login"
	ActionLoginFailed    = "user.login_failed"
	ActionLogout         = "user.logout"
)
