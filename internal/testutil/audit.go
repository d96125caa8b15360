// audit.go
//
// Shared mock implementations of auth.AuditLog and auth.HealthChecker.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/gatekeep/internal/store"
)

// MockAudit implements auth.AuditLog for tests.
// Entries are kept in insertion order. Use *Err fields to inject errors.
type MockAudit struct {
	InsertErr error
	ListErr   error

	Entries []store.AuditEntry

	mu sync.Mutex
}

func (m *MockAudit) InsertAuditLog(_ context.Context, entry store.AuditEntry) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return nil
}

// ListAuditLogsByUser returns up to limit entries for userID, newest first.
func (m *MockAudit) ListAuditLogsByUser(_ context.Context, userID string, limit int) ([]store.AuditEntry, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.AuditEntry
	for i := len(m.Entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := m.Entries[i]; e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns the recorded actions in order.
func (m *MockAudit) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Action
	}
	return out
}

// MockHealth implements auth.HealthChecker, returning Err.
type MockHealth struct {
	Err error
}

func (m MockHealth) CheckHealth(context.Context) error {
	return m.Err
}
