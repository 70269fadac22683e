package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// AuditSchema creates the audit_events table. Safe to re-run.
const AuditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         BIGSERIAL PRIMARY KEY,
	action     TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	state      TEXT,
	portal_id  BIGINT,
	token_hash TEXT,
	reason     TEXT,
	request_id TEXT
);
CREATE INDEX IF NOT EXISTS audit_events_portal_idx ON audit_events (portal_id, occurred_at);
`

// PostgresStore persists audit events durably.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the audit schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, AuditSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (action, occurred_at, state, portal_id, token_hash, reason, request_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, 0), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
	`, string(event.Action), event.Timestamp, event.State, event.PortalID, event.TokenHash, event.Reason, event.RequestID)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByPortal(ctx context.Context, portalID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, occurred_at, COALESCE(state, ''), COALESCE(portal_id, 0), COALESCE(token_hash, ''), COALESCE(reason, ''), COALESCE(request_id, '')
		FROM audit_events
		WHERE portal_id = $1
		ORDER BY occurred_at
	`, portalID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			action string
		)
		if err := rows.Scan(&action, &e.Timestamp, &e.State, &e.PortalID, &e.TokenHash, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
