// Package store handles session persistence and the optional audit log.
//
// postgres.go -- pgxpool connection setup and audit log queries.
// Postgres only holds the audit trail of auth events; identities live with the provider.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore wraps the shared connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pool for databaseURL and pings it.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool. No-op on a nil store.
func (s *PostgresStore) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

// CheckHealth pings the pool. A nil store (no DATABASE_URL) reports ErrStoreDisabled.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	if s == nil {
		return ErrStoreDisabled
	}
	return s.pool.Ping(ctx)
}

// InsertAuditLog writes one audit row. A zero ID is replaced with a fresh UUID v7.
func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	if entry.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating audit id: %w", err)
		}
		entry.ID = id
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, user_id, action, ip_address, user_agent, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.UserID, entry.Action, entry.IPAddress, entry.UserAgent, entry.Metadata)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// ListAuditLogsByUser returns the newest entries for userID, newest first.
func (s *PostgresStore) ListAuditLogsByUser(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, action, host(ip_address), user_agent, metadata, created_at
		 FROM audit_logs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.IPAddress, &e.UserAgent, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return out, nil
}

// PruneAuditLogs deletes entries older than retention. Returns rows deleted.
func (s *PostgresStore) PruneAuditLogs(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM audit_logs WHERE created_at < $1",
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
