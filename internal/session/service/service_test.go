package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"hubbridge/internal/audit"
	"hubbridge/internal/oauth"
	oauthmocks "hubbridge/internal/oauth/mocks"
	"hubbridge/internal/platform/metrics"
	"hubbridge/internal/session"
	"hubbridge/internal/session/service/mocks"
	"hubbridge/internal/session/store"
	dErrors "hubbridge/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite

	ctrl      *gomock.Controller
	store     *store.InMemoryStore
	exchanger *oauthmocks.MockExchanger
	accounts  *mocks.MockAccountLookup
	authURL   *mocks.MockAuthURLBuilder
	aud       *mocks.MockAuditPublisher
	now       time.Time
	svc       *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()
	s.exchanger = oauthmocks.NewMockExchanger(s.ctrl)
	s.accounts = mocks.NewMockAccountLookup(s.ctrl)
	s.authURL = mocks.NewMockAuthURLBuilder(s.ctrl)
	s.aud = mocks.NewMockAuditPublisher(s.ctrl)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s.svc = New(
		s.store,
		s.exchanger,
		s.accounts,
		s.authURL,
		s.aud,
		slog.New(slog.DiscardHandler),
		metrics.New(prometheus.NewRegistry()),
		10*time.Minute,
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *ServiceSuite) TestBeginInstallCreatesPendingSession() {
	s.authURL.EXPECT().AuthCodeURL(gomock.Any()).Return("https://app.hubspot.com/oauth/authorize?state=x")
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	state, url, err := s.svc.BeginInstall(context.Background())
	s.Require().NoError(err)
	s.NotEmpty(state)
	s.Contains(url, "authorize")

	sess, err := s.store.Get(context.Background(), state)
	s.Require().NoError(err)
	s.Equal(session.StatusInitiated, sess.Status)
	s.False(sess.Authenticated())
	s.Equal(s.now, sess.CreatedAt)
}

func (s *ServiceSuite) TestCompleteInstallHappyPath() {
	state := s.pendingState()

	s.exchanger.EXPECT().
		Exchange(gomock.Any(), oauth.Grant{Type: oauth.GrantAuthorizationCode, Code: "code-1"}).
		Return(&oauth.TokenGrant{
			AccessToken:  "A1",
			RefreshToken: "R1",
			ExpiresAt:    s.now.Add(3600 * time.Second),
		}, nil)
	s.accounts.EXPECT().AccountInfo(gomock.Any(), "A1").Return(int64(42), nil)
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
		s.Equal(audit.ActionInstallCompleted, ev.Action)
		s.Equal(int64(42), ev.PortalID)
		s.NotContains(ev.TokenHash, "A1")
		return nil
	})

	sess, err := s.svc.CompleteInstall(context.Background(), state, "code-1")
	s.Require().NoError(err)
	s.Equal(session.StatusAuthenticated, sess.Status)
	s.Equal("A1", sess.AccessToken)
	s.Equal("R1", sess.RefreshToken)
	s.Equal(int64(42), sess.PortalID)
	s.Equal(s.now.Add(time.Hour), sess.ExpiresAt)

	byPortal, err := s.store.FindByPortal(context.Background(), 42)
	s.Require().NoError(err)
	s.Equal(state, byPortal.State)
}

func (s *ServiceSuite) TestCompleteInstallUnknownState() {
	_, err := s.svc.CompleteInstall(context.Background(), "no-such-state", "code-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestCompleteInstallMissingParams() {
	_, err := s.svc.CompleteInstall(context.Background(), "", "code-1")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.svc.CompleteInstall(context.Background(), "state", "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestCompleteInstallReplayRejected() {
	state := s.pendingState()

	s.exchanger.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return(&oauth.TokenGrant{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    s.now.Add(time.Hour),
	}, nil)
	s.accounts.EXPECT().AccountInfo(gomock.Any(), "A1").Return(int64(42), nil)
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.svc.CompleteInstall(context.Background(), state, "code-1")
	s.Require().NoError(err)

	// Replaying the callback must not hit the exchanger again.
	_, err = s.svc.CompleteInstall(context.Background(), state, "code-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestCompleteInstallExpiredWindow() {
	state := s.pendingState()
	s.now = s.now.Add(11 * time.Minute)

	_, err := s.svc.CompleteInstall(context.Background(), state, "code-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestCompleteInstallExchangeFailureLeavesSessionPending() {
	state := s.pendingState()

	s.exchanger.EXPECT().Exchange(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("invalid authorization code"))
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
		s.Equal(audit.ActionInstallFailed, ev.Action)
		return nil
	})

	_, err := s.svc.CompleteInstall(context.Background(), state, "bad-code")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))

	// No partial writes: the session holds no token material and can retry.
	sess, getErr := s.store.Get(context.Background(), state)
	s.Require().NoError(getErr)
	s.Equal(session.StatusInitiated, sess.Status)
	s.Empty(sess.AccessToken)
	s.Empty(sess.RefreshToken)
}

func (s *ServiceSuite) TestCompleteInstallAccountLookupFailure() {
	state := s.pendingState()

	s.exchanger.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return(&oauth.TokenGrant{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    s.now.Add(time.Hour),
	}, nil)
	s.accounts.EXPECT().AccountInfo(gomock.Any(), "A1").Return(int64(0), errors.New("503 from account-info"))
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.svc.CompleteInstall(context.Background(), state, "code-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))

	sess, getErr := s.store.Get(context.Background(), state)
	s.Require().NoError(getErr)
	s.False(sess.Authenticated())
	s.Empty(sess.AccessToken)
}

// pendingState seeds a fresh initiated session and returns its state.
func (s *ServiceSuite) pendingState() string {
	s.T().Helper()
	s.authURL.EXPECT().AuthCodeURL(gomock.Any()).Return("https://app.hubspot.com/oauth/authorize")
	s.aud.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	state, _, err := s.svc.BeginInstall(context.Background())
	s.Require().NoError(err)
	return state
}
