package actions

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"hubbridge/internal/hubspot"
	dErrors "hubbridge/pkg/domain-errors"
)

// fakeCRM records the calls the retry flow makes against the CRM.
type fakeCRM struct {
	deal          *hubspot.Deal
	dealErr       error
	updated       map[string]any
	updateErr     error
	completedID   string
	completedWith string
	completeErr   error
	registered    string
}

func (f *fakeCRM) Deal(_ context.Context, _ string, _ string, _ ...string) (*hubspot.Deal, error) {
	return f.deal, f.dealErr
}

func (f *fakeCRM) UpdateDeal(_ context.Context, _ string, _ string, properties map[string]any) error {
	f.updated = properties
	return f.updateErr
}

func (f *fakeCRM) CompleteCallback(_ context.Context, _ string, callbackID, executionState string) error {
	f.completedID = callbackID
	f.completedWith = executionState
	return f.completeErr
}

func (f *fakeCRM) RegisterCustomAction(_ context.Context, actionName string) error {
	f.registered = actionName
	return nil
}

type fixedResolver struct {
	token string
	err   error
}

func (r fixedResolver) Resolve(context.Context, int64) (string, error) {
	return r.token, r.err
}

type ActionsSuite struct {
	suite.Suite

	registry *InMemoryRegistry
	crm      *fakeCRM
	svc      *Service
}

func TestActionsSuite(t *testing.T) {
	suite.Run(t, new(ActionsSuite))
}

func (s *ActionsSuite) SetupTest() {
	s.registry = NewInMemoryRegistry()
	s.crm = &fakeCRM{
		deal: &hubspot.Deal{ID: "deal-7", Properties: map[string]string{"number_tried": "2"}},
	}
	s.svc = NewService(s.registry, s.crm, fixedResolver{token: "A1"}, slog.New(slog.DiscardHandler))
}

func (s *ActionsSuite) TestAddAndRetry() {
	ctx := context.Background()
	cb := Callback{ID: "cb-1", PortalID: 42, ObjectID: "deal-7"}
	s.Require().NoError(s.svc.Add(ctx, cb))

	attempt, err := s.svc.Retry(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal(3, attempt)
	s.Equal("3", s.crm.updated["number_tried"])
	s.Equal("qualifiedtobuy", s.crm.updated["dealstage"])
	s.Equal("cb-1", s.crm.completedID)
	s.Equal(ExecutionSuccess, s.crm.completedWith)

	// Completed callbacks are dropped from the registry.
	_, err = s.registry.Get(ctx, "cb-1")
	s.Require().Error(err)
}

func (s *ActionsSuite) TestRetryMissingCounterStartsAtOne() {
	ctx := context.Background()
	s.crm.deal.Properties = map[string]string{}
	s.Require().NoError(s.svc.Add(ctx, Callback{ID: "cb-1", PortalID: 42, ObjectID: "deal-7"}))

	attempt, err := s.svc.Retry(ctx, "cb-1")
	s.Require().NoError(err)
	s.Equal(1, attempt)
}

func (s *ActionsSuite) TestRetryUnknownCallback() {
	_, err := s.svc.Retry(context.Background(), "nope")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ActionsSuite) TestRetryTokenResolutionFailurePropagates() {
	ctx := context.Background()
	s.svc = NewService(s.registry, s.crm,
		fixedResolver{err: dErrors.New(dErrors.CodeUnauthorized, "portal must reinstall")},
		slog.New(slog.DiscardHandler))
	s.Require().NoError(s.svc.Add(ctx, Callback{ID: "cb-1", PortalID: 42, ObjectID: "deal-7"}))

	_, err := s.svc.Retry(ctx, "cb-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ActionsSuite) TestRetryCompletionFailureKeepsCallback() {
	ctx := context.Background()
	s.crm.completeErr = errors.New("callback already completed")
	s.Require().NoError(s.svc.Add(ctx, Callback{ID: "cb-1", PortalID: 42, ObjectID: "deal-7"}))

	_, err := s.svc.Retry(ctx, "cb-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))

	_, err = s.registry.Get(ctx, "cb-1")
	s.Require().NoError(err)
}

func (s *ActionsSuite) TestAddValidation() {
	err := s.svc.Add(context.Background(), Callback{ID: "cb-1"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ActionsSuite) TestRegister() {
	s.Require().NoError(s.svc.Register(context.Background(), "Retry deal"))
	s.Equal("Retry deal", s.crm.registered)

	err := s.svc.Register(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}
