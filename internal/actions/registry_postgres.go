package actions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hubbridge/pkg/platform/sentinel"
)

// CallbackSchema creates the callbacks table. Applied by EnsureSchema at
// startup and by integration tests; safe to re-run.
const CallbackSchema = `
CREATE TABLE IF NOT EXISTS callbacks (
	callback_id TEXT PRIMARY KEY,
	portal_id   BIGINT NOT NULL,
	object_id   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresRegistry persists callbacks so blocked executions survive a
// restart.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry constructs a Postgres-backed callback registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema applies the callbacks schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, CallbackSchema); err != nil {
		return fmt.Errorf("ensure callbacks schema: %w", err)
	}
	return nil
}

// Put upserts: HubSpot redelivers the same callback id on retry and the
// latest origin wins.
func (r *PostgresRegistry) Put(ctx context.Context, cb Callback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO callbacks (callback_id, portal_id, object_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (callback_id) DO UPDATE
			SET portal_id = EXCLUDED.portal_id, object_id = EXCLUDED.object_id
	`, cb.ID, cb.PortalID, cb.ObjectID)
	if err != nil {
		return fmt.Errorf("store callback: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (Callback, error) {
	var cb Callback
	err := r.db.QueryRowContext(ctx, `
		SELECT callback_id, portal_id, object_id FROM callbacks WHERE callback_id = $1
	`, id).Scan(&cb.ID, &cb.PortalID, &cb.ObjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return Callback{}, fmt.Errorf("callback %q: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return Callback{}, fmt.Errorf("get callback: %w", err)
	}
	return cb, nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM callbacks WHERE callback_id = $1`, id); err != nil {
		return fmt.Errorf("delete callback: %w", err)
	}
	return nil
}
