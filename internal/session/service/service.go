// Package service implements the install session lifecycle: minting the
// correlation state, completing the OAuth callback, and attaching the
// portal identity. The state machine is deliberately small: initiated,
// then authenticated, and authenticated is terminal. Token renewal is the
// token resolver's job, not a state transition.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hubbridge/internal/audit"
	"hubbridge/internal/oauth"
	"hubbridge/internal/platform/metrics"
	"hubbridge/internal/session"
	"hubbridge/internal/session/store"
	dErrors "hubbridge/pkg/domain-errors"
)

// AccountLookup resolves the portal id owning an access token.
type AccountLookup interface {
	AccountInfo(ctx context.Context, accessToken string) (int64, error)
}

// AuthURLBuilder mints the consent URL for a given state.
type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

// AuditPublisher records lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the install flow.
type Service struct {
	store      store.Store
	exchanger  oauth.Exchanger
	accounts   AccountLookup
	authURL    AuthURLBuilder
	aud        AuditPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	installTTL time.Duration
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the time source, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the lifecycle service.
func New(
	st store.Store,
	exchanger oauth.Exchanger,
	accounts AccountLookup,
	authURL AuthURLBuilder,
	aud AuditPublisher,
	logger *slog.Logger,
	m *metrics.Metrics,
	installTTL time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		store:      st,
		exchanger:  exchanger,
		accounts:   accounts,
		authURL:    authURL,
		aud:        aud,
		logger:     logger,
		metrics:    m,
		installTTL: installTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginInstall mints a fresh correlation state, persists a pending session
// and returns the state with the consent URL to redirect to. A generated
// state colliding with an existing record surfaces as a conflict; callers
// retry with a new call.
func (s *Service) BeginInstall(ctx context.Context) (string, string, error) {
	state := uuid.NewString()
	sess := &session.Session{
		State:     state,
		Status:    session.StatusInitiated,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeConflict, "install state collision")
	}

	s.metrics.InstallsStarted.Inc()
	_ = s.aud.Emit(ctx, audit.Event{Action: audit.ActionInstallStarted, State: state})
	s.logger.InfoContext(ctx, "install started", "state", state)

	return state, s.authURL.AuthCodeURL(state), nil
}

// CompleteInstall binds the OAuth callback to its pending session,
// exchanges the authorization code, attaches the portal identity and marks
// the session authenticated in a single store write. On any upstream
// failure the session stays pending with no token material, so the
// install can be retried from scratch.
func (s *Service) CompleteInstall(ctx context.Context, state, code string) (*session.Session, error) {
	if state == "" || code == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing authorization code or state")
	}

	sess, err := s.store.Get(ctx, state)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "no pending install for state")
	}
	if sess.Authenticated() {
		// Callback replay: never exchange the same code twice.
		return nil, dErrors.New(dErrors.CodeInvalidState, "install already completed")
	}
	now := s.now()
	if now.Sub(sess.CreatedAt) > s.installTTL {
		return nil, dErrors.New(dErrors.CodeInvalidState, "install window expired")
	}

	grant, err := s.exchanger.Exchange(ctx, oauth.Grant{Type: oauth.GrantAuthorizationCode, Code: code})
	if err != nil {
		s.metrics.InstallsFailed.Inc()
		s.metrics.TokenExchanges.WithLabelValues(string(oauth.GrantAuthorizationCode), metrics.OutcomeFailed).Inc()
		_ = s.aud.Emit(ctx, audit.Event{
			Action: audit.ActionInstallFailed,
			State:  state,
			Reason: err.Error(),
		})
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "token exchange failed")
	}
	s.metrics.TokenExchanges.WithLabelValues(string(oauth.GrantAuthorizationCode), metrics.OutcomeOK).Inc()

	portalID, err := s.accounts.AccountInfo(ctx, grant.AccessToken)
	if err != nil {
		s.metrics.InstallsFailed.Inc()
		_ = s.aud.Emit(ctx, audit.Event{
			Action: audit.ActionInstallFailed,
			State:  state,
			Reason: err.Error(),
		})
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "account identity lookup failed")
	}

	status := session.StatusAuthenticated
	updated, err := s.store.Update(ctx, state, session.Update{
		Status:          &status,
		AccessToken:     &grant.AccessToken,
		RefreshToken:    &grant.RefreshToken,
		ExpiresAt:       &grant.ExpiresAt,
		PortalID:        &portalID,
		AuthenticatedAt: &now,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist authenticated session")
	}

	s.metrics.InstallsCompleted.Inc()
	_ = s.aud.Emit(ctx, audit.Event{
		Action:    audit.ActionInstallCompleted,
		State:     state,
		PortalID:  portalID,
		TokenHash: audit.TokenFingerprint(grant.AccessToken),
	})
	s.logger.InfoContext(ctx, "install completed", "state", state, "portal_id", portalID)

	return updated, nil
}

// AuthorizeURL rebuilds the consent URL for an existing state.
func (s *Service) AuthorizeURL(state string) string {
	return s.authURL.AuthCodeURL(state)
}
