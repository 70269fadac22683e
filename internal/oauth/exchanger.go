// Package oauth performs token grants against the HubSpot OAuth endpoint.
// The exchanger is stateless: it never touches the session store and never
// retries; retry policy belongs to callers.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"hubbridge/internal/platform/config"
)

// GrantType selects which OAuth2 grant a call performs.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Grant is the input to Exchange: an authorization code for the initial
// grant or a refresh token for renewal. Client credentials and scope come
// from configuration, never from the caller.
type Grant struct {
	Type         GrantType
	Code         string
	RefreshToken string
}

// TokenGrant is the normalized result of a successful grant. RefreshToken
// may be empty on refresh grants; callers must retain the previous one in
// that case.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExchangeError reports a failed grant. Reason carries the upstream
// message field when one was returned; it never contains token material.
type ExchangeError struct {
	GrantType  GrantType
	StatusCode int
	Reason     string
}

func (e *ExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s grant failed (status %d): %s", e.GrantType, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s grant failed: %s", e.GrantType, e.Reason)
}

// Exchanger performs one network call per grant. Implementations must not
// log or persist client secrets or token values.
type Exchanger interface {
	Exchange(ctx context.Context, g Grant) (*TokenGrant, error)
}

// HubSpotExchanger exchanges grants against the configured HubSpot token
// endpoint via golang.org/x/oauth2.
type HubSpotExchanger struct {
	cfg     *oauth2.Config
	timeout time.Duration
	client  *http.Client
	tracer  trace.Tracer
}

// NewHubSpotExchanger builds an exchanger from the app registration.
func NewHubSpotExchanger(hs config.HubSpot) *HubSpotExchanger {
	return &HubSpotExchanger{
		cfg: &oauth2.Config{
			ClientID:     hs.ClientID,
			ClientSecret: hs.ClientSecret,
			RedirectURL:  hs.RedirectURI,
			Scopes:       hs.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   hs.AuthURL,
				TokenURL:  hs.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		timeout: hs.ExchangeTimeout,
		client:  &http.Client{},
		tracer:  otel.Tracer("hubbridge/internal/oauth"),
	}
}

// AuthCodeURL returns the consent URL the install flow redirects to,
// binding the given correlation state.
func (e *HubSpotExchanger) AuthCodeURL(state string) string {
	return e.cfg.AuthCodeURL(state)
}

// Exchange performs the grant. Timeouts surface as an ExchangeError so
// callers observe a single failure type for upstream trouble.
func (e *HubSpotExchanger) Exchange(ctx context.Context, g Grant) (*TokenGrant, error) {
	ctx, span := e.tracer.Start(ctx, "oauth.Exchange",
		trace.WithAttributes(attribute.String("grant_type", string(g.Type))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	var (
		tok *oauth2.Token
		err error
	)
	switch g.Type {
	case GrantAuthorizationCode:
		tok, err = e.cfg.Exchange(ctx, g.Code)
	case GrantRefreshToken:
		tok, err = e.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: g.RefreshToken}).Token()
	default:
		return nil, &ExchangeError{GrantType: g.Type, Reason: "unsupported grant type"}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// x/oauth2 does not always preserve the context error chain.
			err = ctxErr
		}
		exErr := translateExchangeError(g.Type, err)
		span.RecordError(exErr)
		return nil, exErr
	}
	if tok.AccessToken == "" {
		return nil, &ExchangeError{GrantType: g.Type, Reason: "token endpoint returned no access token"}
	}
	if !tok.Expiry.After(time.Now()) {
		return nil, &ExchangeError{GrantType: g.Type, Reason: "token endpoint returned an already-expired token"}
	}
	// Only refresh grants may omit the refresh token (the caller retains
	// its previous one); a code grant without it leaves the session unable
	// to ever renew.
	if g.Type == GrantAuthorizationCode && tok.RefreshToken == "" {
		return nil, &ExchangeError{GrantType: g.Type, Reason: "token endpoint returned no refresh token"}
	}

	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// translateExchangeError normalizes x/oauth2 failures. HubSpot returns a
// JSON error object with a message field on non-2xx responses.
func translateExchangeError(gt GrantType, err error) *ExchangeError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		reason := re.ErrorDescription
		if reason == "" {
			var body struct {
				Message string `json:"message"`
			}
			if jsonErr := json.Unmarshal(re.Body, &body); jsonErr == nil && body.Message != "" {
				reason = body.Message
			}
		}
		if reason == "" {
			reason = "token endpoint rejected the grant"
		}
		return &ExchangeError{GrantType: gt, StatusCode: re.Response.StatusCode, Reason: reason}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExchangeError{GrantType: gt, Reason: "token endpoint timed out"}
	}
	return &ExchangeError{GrantType: gt, Reason: err.Error()}
}
