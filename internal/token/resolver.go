// Package token resolves a portal id to a currently valid access token,
// refreshing behind the scenes when the stored token has expired. Callers
// never see refresh tokens; they get an access token or an error telling
// them the portal must reinstall.
package token

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"hubbridge/internal/audit"
	"hubbridge/internal/oauth"
	"hubbridge/internal/platform/metrics"
	"hubbridge/internal/session"
	"hubbridge/internal/session/store"
	dErrors "hubbridge/pkg/domain-errors"
)

// AuditPublisher records refresh outcomes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Resolver hands out valid access tokens for authenticated portals.
type Resolver struct {
	store     store.Store
	exchanger oauth.Exchanger
	aud       AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// Collapses concurrent refreshes for the same portal into one grant.
	group singleflight.Group

	now func() time.Time
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithClock sets the time source, primarily for testing.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a Resolver over the given session store and exchanger.
func NewResolver(st store.Store, exchanger oauth.Exchanger, aud AuditPublisher, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Resolver {
	r := &Resolver{
		store:     st,
		exchanger: exchanger,
		aud:       aud,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("hubbridge/token"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns an access token valid at the time of the call for the
// given portal. An expired token triggers a refresh grant; a failed
// refresh leaves the stored session untouched and reports that the portal
// must re-run the install flow.
func (r *Resolver) Resolve(ctx context.Context, portalID int64) (string, error) {
	ctx, span := r.tracer.Start(ctx, "token.Resolve",
		trace.WithAttributes(attribute.Int64("portal.id", portalID)))
	defer span.End()

	start := r.now()
	defer func() {
		r.metrics.ResolveSeconds.Observe(r.now().Sub(start).Seconds())
	}()

	sess, err := r.store.FindByPortal(ctx, portalID)
	if err != nil {
		r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeUnknownPortal).Inc()
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "no authenticated session for portal")
	}

	if sess.TokenValidAt(r.now()) {
		r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeHit).Inc()
		return sess.AccessToken, nil
	}

	// Waiters share the winner's result, so the grant must not die with
	// the winner's request. The exchanger bounds the call with its own
	// timeout.
	refreshCtx := context.WithoutCancel(ctx)
	token, err, _ := r.group.Do(strconv.FormatInt(portalID, 10), func() (any, error) {
		return r.refresh(refreshCtx, portalID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh re-reads the session under the singleflight lock, so a caller
// that lost the race returns the token its winner just stored instead of
// burning a second refresh grant.
func (r *Resolver) refresh(ctx context.Context, portalID int64) (string, error) {
	sess, err := r.store.FindByPortal(ctx, portalID)
	if err != nil {
		r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeUnknownPortal).Inc()
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "no authenticated session for portal")
	}
	if sess.TokenValidAt(r.now()) {
		r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeHit).Inc()
		return sess.AccessToken, nil
	}

	grant, err := r.exchanger.Exchange(ctx, oauth.Grant{
		Type:         oauth.GrantRefreshToken,
		RefreshToken: sess.RefreshToken,
	})
	if err != nil {
		r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeReauthRequired).Inc()
		r.metrics.TokenExchanges.WithLabelValues(string(oauth.GrantRefreshToken), metrics.OutcomeFailed).Inc()
		_ = r.aud.Emit(ctx, audit.Event{
			Action:   audit.ActionTokenRefreshFailed,
			State:    sess.State,
			PortalID: portalID,
			Reason:   err.Error(),
		})
		r.logger.WarnContext(ctx, "refresh grant rejected, reauthorization required",
			"portal_id", portalID, "state", sess.State)
		// The stored session is left as-is so operators can inspect it.
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "refresh rejected, portal must reinstall")
	}
	r.metrics.TokenExchanges.WithLabelValues(string(oauth.GrantRefreshToken), metrics.OutcomeOK).Inc()

	update := session.Update{
		AccessToken: &grant.AccessToken,
		ExpiresAt:   &grant.ExpiresAt,
	}
	// HubSpot usually rotates the refresh token on each grant; keep the
	// old one when the response omits it.
	if grant.RefreshToken != "" {
		update.RefreshToken = &grant.RefreshToken
	}
	if _, err := r.store.Update(ctx, sess.State, update); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "persist refreshed token")
	}

	r.metrics.TokenResolves.WithLabelValues(metrics.OutcomeRefreshed).Inc()
	_ = r.aud.Emit(ctx, audit.Event{
		Action:    audit.ActionTokenRefreshed,
		State:     sess.State,
		PortalID:  portalID,
		TokenHash: audit.TokenFingerprint(grant.AccessToken),
	})
	r.logger.InfoContext(ctx, "access token refreshed", "portal_id", portalID)

	return grant.AccessToken, nil
}
