package actions

import (
	"context"
	"log/slog"
	"strconv"

	"hubbridge/internal/hubspot"
	dErrors "hubbridge/pkg/domain-errors"
)

// Execution states accepted by the callback completion endpoint.
const (
	ExecutionSuccess = "SUCCESS"

	retryCountProperty = "number_tried"
	retryDealStage     = "qualifiedtobuy"
)

// DealClient is the slice of the CRM client the retry flow needs.
type DealClient interface {
	Deal(ctx context.Context, accessToken, dealID string, properties ...string) (*hubspot.Deal, error)
	UpdateDeal(ctx context.Context, accessToken, dealID string, properties map[string]any) error
	CompleteCallback(ctx context.Context, accessToken, callbackID, executionState string) error
	RegisterCustomAction(ctx context.Context, actionName string) error
}

// TokenResolver supplies a valid access token for a portal.
type TokenResolver interface {
	Resolve(ctx context.Context, portalID int64) (string, error)
}

// Service drives the workflow custom action lifecycle.
type Service struct {
	registry Registry
	crm      DealClient
	tokens   TokenResolver
	logger   *slog.Logger
}

func NewService(registry Registry, crm DealClient, tokens TokenResolver, logger *slog.Logger) *Service {
	return &Service{registry: registry, crm: crm, tokens: tokens, logger: logger}
}

// Register publishes the custom action definition under the given name.
func (s *Service) Register(ctx context.Context, actionName string) error {
	if actionName == "" {
		return dErrors.New(dErrors.CodeBadRequest, "action name is required")
	}
	if err := s.crm.RegisterCustomAction(ctx, actionName); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUpstream, "register custom action")
	}
	s.logger.InfoContext(ctx, "custom action registered", "action_name", actionName)
	return nil
}

// Add records a blocked execution so a later retry can find its portal
// and deal.
func (s *Service) Add(ctx context.Context, cb Callback) error {
	if cb.ID == "" || cb.PortalID == 0 || cb.ObjectID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "callback id, portal id and object id are required")
	}
	if err := s.registry.Put(ctx, cb); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "store callback")
	}
	s.logger.InfoContext(ctx, "callback recorded",
		"callback_id", cb.ID, "portal_id", cb.PortalID, "object_id", cb.ObjectID)
	return nil
}

// Retry bumps the deal's retry counter, moves it back to the retry stage
// and completes the blocked execution with SUCCESS. The callback record is
// dropped only after completion succeeds; a failed retry stays replayable.
func (s *Service) Retry(ctx context.Context, callbackID string) (int, error) {
	cb, err := s.registry.Get(ctx, callbackID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown callback id")
	}

	accessToken, err := s.tokens.Resolve(ctx, cb.PortalID)
	if err != nil {
		return 0, err
	}

	deal, err := s.crm.Deal(ctx, accessToken, cb.ObjectID, retryCountProperty)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUpstream, "fetch deal")
	}
	tried, _ := strconv.Atoi(deal.Properties[retryCountProperty])
	tried++

	err = s.crm.UpdateDeal(ctx, accessToken, cb.ObjectID, map[string]any{
		retryCountProperty: strconv.Itoa(tried),
		"dealstage":        retryDealStage,
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUpstream, "update deal for retry")
	}

	if err := s.crm.CompleteCallback(ctx, accessToken, cb.ID, ExecutionSuccess); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUpstream, "complete blocked execution")
	}
	if err := s.registry.Delete(ctx, cb.ID); err != nil {
		s.logger.WarnContext(ctx, "drop completed callback", "callback_id", cb.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "deal retried",
		"callback_id", cb.ID, "portal_id", cb.PortalID, "object_id", cb.ObjectID, "attempt", tried)
	return tried, nil
}
