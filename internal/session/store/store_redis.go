package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hubbridge/internal/session"
	"hubbridge/pkg/platform/sentinel"
)

const (
	// Primary record, keyed by correlation state.
	stateKeyPrefix = "session:state:"
	// Secondary index: portal id -> state of the latest authenticated
	// session. Overwritten on every completed install, so a reinstall
	// supersedes the previous session for lookups.
	portalKeyPrefix = "session:portal:"
)

// RedisStore is the production session store for distributed deployments
// where multiple instances share install state.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// record is the wire shape. Timestamps are epoch milliseconds, matching
// how expiry is compared everywhere else.
type record struct {
	State           string         `json:"state"`
	Status          session.Status `json:"status"`
	CreatedAt       int64          `json:"created_at"`
	AccessToken     string         `json:"access_token,omitempty"`
	RefreshToken    string         `json:"refresh_token,omitempty"`
	ExpiresAt       int64          `json:"expires_at,omitempty"`
	PortalID        int64          `json:"portal_id,omitempty"`
	AuthenticatedAt int64          `json:"authenticated_at,omitempty"`
}

func toRecord(s *session.Session) record {
	r := record{
		State:        s.State,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		PortalID:     s.PortalID,
	}
	if !s.ExpiresAt.IsZero() {
		r.ExpiresAt = s.ExpiresAt.UnixMilli()
	}
	if !s.AuthenticatedAt.IsZero() {
		r.AuthenticatedAt = s.AuthenticatedAt.UnixMilli()
	}
	return r
}

func fromRecord(r record) *session.Session {
	s := &session.Session{
		State:        r.State,
		Status:       r.Status,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		PortalID:     r.PortalID,
	}
	if r.ExpiresAt != 0 {
		s.ExpiresAt = time.UnixMilli(r.ExpiresAt)
	}
	if r.AuthenticatedAt != 0 {
		s.AuthenticatedAt = time.UnixMilli(r.AuthenticatedAt)
	}
	return s
}

func (s *RedisStore) Create(ctx context.Context, sess *session.Session) error {
	payload, err := json.Marshal(toRecord(sess))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, stateKeyPrefix+sess.State, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %q: %w", sess.State, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, state string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, stateKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %q: %w", state, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return fromRecord(r), nil
}

// Update merges and writes back without a WATCH transaction: concurrent
// refreshes for the same portal are tolerated and the second write wins.
func (s *RedisStore) Update(ctx context.Context, state string, upd session.Update) (*session.Session, error) {
	sess, err := s.Get(ctx, state)
	if err != nil {
		return nil, err
	}
	upd.Apply(sess)

	payload, err := json.Marshal(toRecord(sess))
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, stateKeyPrefix+state, payload, 0)
	if sess.Authenticated() && sess.PortalID != 0 {
		pipe.Set(ctx, portalKeyPrefix+strconv.FormatInt(sess.PortalID, 10), state, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) FindByPortal(ctx context.Context, portalID int64) (*session.Session, error) {
	state, err := s.client.Get(ctx, portalKeyPrefix+strconv.FormatInt(portalID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("portal %d: %w", portalID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find session by portal: %w", err)
	}

	sess, err := s.Get(ctx, state)
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated() || sess.PortalID != portalID {
		// Dangling index entry; treat as absent rather than serving a
		// session that cannot produce tokens.
		return nil, fmt.Errorf("portal %d: %w", portalID, sentinel.ErrNotFound)
	}
	return sess, nil
}

func (s *RedisStore) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("sweep pending sessions: %w", err)
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if r.Status != session.StatusInitiated || !time.UnixMilli(r.CreatedAt).Before(cutoff) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return removed, fmt.Errorf("sweep pending sessions: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep pending sessions: %w", err)
	}
	return removed, nil
}
