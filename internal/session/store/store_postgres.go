package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"hubbridge/internal/session"
	"hubbridge/pkg/platform/sentinel"
)

// Schema creates the sessions table. Applied by EnsureSchema at startup
// and by integration tests; safe to re-run.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	state            TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	access_token     TEXT,
	refresh_token    TEXT,
	expires_at       TIMESTAMPTZ,
	portal_id        BIGINT,
	authenticated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_portal_idx
	ON sessions (portal_id, authenticated_at DESC)
	WHERE status = 'authenticated';
`

// PostgresStore persists sessions durably. It is the audited backend:
// superseded sessions remain as rows rather than being overwritten.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the sessions schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions (state, status, created_at, access_token, refresh_token, expires_at, portal_id, authenticated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, 0), $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.State,
		string(sess.Status),
		sess.CreatedAt,
		sess.AccessToken,
		sess.RefreshToken,
		nullTime(sess.ExpiresAt),
		sess.PortalID,
		nullTime(sess.AuthenticatedAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("session %q: %w", sess.State, sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, state string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, status, created_at, access_token, refresh_token, expires_at, portal_id, authenticated_at
		FROM sessions WHERE state = $1
	`, state)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", state, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Update merges via COALESCE so unset fields keep their stored values.
func (s *PostgresStore) Update(ctx context.Context, state string, upd session.Update) (*session.Session, error) {
	var status sql.NullString
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE sessions SET
			status           = COALESCE($2, status),
			access_token     = COALESCE($3, access_token),
			refresh_token    = COALESCE($4, refresh_token),
			expires_at       = COALESCE($5, expires_at),
			portal_id        = COALESCE($6, portal_id),
			authenticated_at = COALESCE($7, authenticated_at)
		WHERE state = $1
		RETURNING state, status, created_at, access_token, refresh_token, expires_at, portal_id, authenticated_at
	`,
		state,
		status,
		nullString(upd.AccessToken),
		nullString(upd.RefreshToken),
		nullTimePtr(upd.ExpiresAt),
		nullInt(upd.PortalID),
		nullTimePtr(upd.AuthenticatedAt),
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", state, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) FindByPortal(ctx context.Context, portalID int64) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, status, created_at, access_token, refresh_token, expires_at, portal_id, authenticated_at
		FROM sessions
		WHERE portal_id = $1 AND status = 'authenticated'
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, portalID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portal %d: %w", portalID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session by portal: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE status = 'initiated' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep pending sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep pending sessions: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess            session.Session
		status          string
		accessToken     sql.NullString
		refreshToken    sql.NullString
		expiresAt       sql.NullTime
		portalID        sql.NullInt64
		authenticatedAt sql.NullTime
	)
	if err := row.Scan(
		&sess.State, &status, &sess.CreatedAt,
		&accessToken, &refreshToken, &expiresAt,
		&portalID, &authenticatedAt,
	); err != nil {
		return nil, err
	}
	sess.Status = session.Status(status)
	sess.AccessToken = accessToken.String
	sess.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		sess.ExpiresAt = expiresAt.Time
	}
	sess.PortalID = portalID.Int64
	if authenticatedAt.Valid {
		sess.AuthenticatedAt = authenticatedAt.Time
	}
	return &sess, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
