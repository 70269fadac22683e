// Package store persists install sessions. Three backends share one
// contract: in-memory for tests and development, Redis for production
// deployments, Postgres where durable history is required.
package store

import (
	"context"
	"time"

	"hubbridge/internal/session"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound (wrapped) when the requested session does not exist
// - Return sentinel.ErrAlreadyExists (wrapped) when Create hits a duplicate state
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
//
// Reads always hit the backend; there is no in-process caching, so a
// resolution that follows a concurrent refresh observes the refreshed
// tokens.
type Store interface {
	// Create persists a new session keyed by its State.
	Create(ctx context.Context, s *session.Session) error

	// Get returns the session for the given state.
	Get(ctx context.Context, state string) (*session.Session, error)

	// Update merges the set fields of upd into the stored session and
	// returns the merged record.
	Update(ctx context.Context, state string, upd session.Update) (*session.Session, error)

	// FindByPortal returns the most recently authenticated session for the
	// portal. Pending sessions never match.
	FindByPortal(ctx context.Context, portalID int64) (*session.Session, error)

	// DeleteExpiredPending removes initiated sessions created before the
	// cutoff. Intended for an external sweep, not the request path.
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error)
}
