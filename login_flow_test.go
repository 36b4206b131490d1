package accounts_test

import (
	"context"
	"net/url"
	"sync/atomic"
	"testing"

	accounts "github.com/kerliix/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLoginFixture(t *testing.T) (*MockService, *accounts.SessionStore, *recordingNavigator, *accounts.LoginFlow) {
	t.Helper()
	service := new(MockService)
	store := accounts.NewSessionStore(service).WithLogger(testLogger{})
	nav := &recordingNavigator{}
	flow := accounts.NewLoginFlow(service, store).
		WithNavigator(nav).
		WithLogger(testLogger{})
	return service, store, nav, flow
}

func TestLoginFlowPasswordHappyPath(t *testing.T) {
	service, store, nav, flow := newLoginFixture(t)

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true, HasPasskeys: false}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "correct").
		Return(&accounts.LoginResult{Identity: &accounts.Identity{ID: "u1", Username: "alice"}}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	assert.Equal(t, accounts.StepCredential, flow.Step())
	assert.False(t, flow.HasPasskey())

	require.NoError(t, flow.SubmitPassword(ctx, "correct"))
	assert.Equal(t, accounts.StepDone, flow.Step())

	session := store.Current()
	require.NotNil(t, session.Identity)
	assert.Equal(t, "u1", session.Identity.ID)

	require.Equal(t, 1, nav.count())
	path, _, ok := nav.last()
	require.True(t, ok)
	assert.Equal(t, accounts.DefaultRedirectTarget, path)
}

func TestLoginFlowRedirectFromEntryQuery(t *testing.T) {
	service, _, nav, flow := newLoginFixture(t)
	flow.WithEntryQuery(url.Values{"redirect": {"https://x"}})

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Identity: &accounts.Identity{ID: "u1"}}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))

	path, _, ok := nav.last()
	require.True(t, ok)
	assert.Equal(t, "https://x", path)
}

func TestLoginFlowUnknownIdentifierStaysAtIdentify(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)
	service.On("CheckIdentifier", mock.Anything, "nobody").
		Return(nil, accounts.ErrIdentifierNotFound)

	err := flow.SubmitIdentifier(context.Background(), "nobody")
	require.Error(t, err)
	assert.Equal(t, accounts.StepIdentify, flow.Step())
}

func TestLoginFlowExistsFalseStaysAtIdentify(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)
	service.On("CheckIdentifier", mock.Anything, "nobody").
		Return(&accounts.IdentifierCheck{Exists: false}, nil)

	err := flow.SubmitIdentifier(context.Background(), "nobody")
	require.Error(t, err)
	assert.Equal(t, accounts.StepIdentify, flow.Step())
}

func TestLoginFlowEmptyIdentifierRejectedLocally(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)

	err := flow.SubmitIdentifier(context.Background(), "   ")
	require.Error(t, err)
	service.AssertNotCalled(t, "CheckIdentifier", mock.Anything, mock.Anything)
}

func TestLoginFlowMfaGating(t *testing.T) {
	service, store, nav, flow := newLoginFixture(t)
	flow.WithEntryQuery(url.Values{"redirect": {"https://x"}})

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Challenge: &accounts.MfaChallenge{
			UserID:  "u1",
			Methods: []accounts.Method{accounts.MethodTOTP, accounts.MethodSMS},
		}}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))

	assert.Equal(t, accounts.StepMfa, flow.Step())
	assert.Equal(t, accounts.MethodTOTP, flow.SelectedMethod())
	require.NotNil(t, flow.Challenge())
	assert.Equal(t, "https://x", flow.Challenge().RedirectTarget)

	// No commit and no redirect happened yet.
	assert.Nil(t, store.Current().Identity)
	assert.Equal(t, 0, nav.count())

	// Selecting another method resets any entered code.
	flow.EnterCode("123")
	require.NoError(t, flow.SelectMethod(accounts.MethodSMS))
	assert.Equal(t, "", flow.EnteredCode())
	assert.Equal(t, accounts.MethodSMS, flow.SelectedMethod())
}

func TestLoginFlowMfaSubmit(t *testing.T) {
	service, store, nav, flow := newLoginFixture(t)

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Challenge: &accounts.MfaChallenge{
			UserID:  "u1",
			Methods: []accounts.Method{accounts.MethodTOTP},
		}}, nil)
	service.On("VerifyMfa", mock.Anything, accounts.MfaRequest{
		Method: accounts.MethodTOTP,
		Path:   "/auth/mfa/login/totp",
		UserID: "u1",
		Code:   "123456",
	}).Return(&accounts.LoginResult{Identity: &accounts.Identity{ID: "u1"}}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))

	flow.EnterCode("123456")
	require.NoError(t, flow.SubmitMfa(ctx))

	assert.Equal(t, accounts.StepDone, flow.Step())
	require.NotNil(t, store.Current().Identity)
	assert.Equal(t, 1, nav.count())
}

func TestLoginFlowMfaBadCodeShapeSkipsNetwork(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Challenge: &accounts.MfaChallenge{
			UserID:  "u1",
			Methods: []accounts.Method{accounts.MethodTOTP},
		}}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))

	flow.EnterCode("12ab")
	err := flow.SubmitMfa(ctx)
	require.Error(t, err)
	assert.True(t, accounts.IsInvalidCode(err))
	assert.Equal(t, accounts.StepMfa, flow.Step())
	service.AssertNotCalled(t, "VerifyMfa", mock.Anything, mock.Anything)
}

func TestLoginFlowMfaFailureKeepsMethodSelected(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)

	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Challenge: &accounts.MfaChallenge{
			UserID:  "u1",
			Methods: []accounts.Method{accounts.MethodTOTP, accounts.MethodSMS},
		}}, nil)
	service.On("VerifyMfa", mock.Anything, mock.Anything).
		Return(nil, accounts.ErrInvalidCredentials)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))
	require.NoError(t, flow.SelectMethod(accounts.MethodSMS))

	flow.EnterCode("123456")
	err := flow.SubmitMfa(ctx)
	require.Error(t, err)
	assert.Equal(t, accounts.StepMfa, flow.Step())
	assert.Equal(t, accounts.MethodSMS, flow.SelectedMethod())
}

func TestLoginFlowBackDiscardsState(t *testing.T) {
	service, _, _, flow := newLoginFixture(t)
	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true, HasPasskeys: true}, nil)

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.Equal(t, accounts.StepCredential, flow.Step())

	require.NoError(t, flow.Back())
	assert.Equal(t, accounts.StepIdentify, flow.Step())
	assert.Equal(t, "", flow.Identifier())
	assert.False(t, flow.HasPasskey())
	assert.Nil(t, flow.Challenge())
}

func TestLoginFlowMfaDeepLinkWithoutChallenge(t *testing.T) {
	_, _, nav, flow := newLoginFixture(t)

	err := flow.ResumeMfa(accounts.NavState{})
	require.Error(t, err)
	assert.True(t, accounts.IsMissingContext(err))
	assert.Equal(t, accounts.StepIdentify, flow.Step())

	path, _, ok := nav.last()
	require.True(t, ok)
	assert.Equal(t, accounts.RouteLogin, path)
}

func TestLoginFlowResumeMfaWithChallenge(t *testing.T) {
	_, _, _, flow := newLoginFixture(t)

	err := flow.ResumeMfa(accounts.NavState{Challenge: &accounts.MfaChallenge{
		UserID:         "u1",
		Methods:        []accounts.Method{accounts.MethodSMS},
		RedirectTarget: "https://x",
	}})
	require.NoError(t, err)
	assert.Equal(t, accounts.StepMfa, flow.Step())
	assert.Equal(t, accounts.MethodSMS, flow.SelectedMethod())
	assert.Equal(t, "https://x", flow.RedirectTarget())
}

// blockingService holds one configured call open until released, so tests
// can observe in-flight behavior. Every other method hits the mock.
type blockingService struct {
	*MockService
	blockOn string
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingService) CheckIdentifier(ctx context.Context, identifier string) (*accounts.IdentifierCheck, error) {
	if b.blockOn != "CheckIdentifier" {
		return b.MockService.CheckIdentifier(ctx, identifier)
	}
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return &accounts.IdentifierCheck{Exists: true}, nil
}

func (b *blockingService) LoginWithPassword(ctx context.Context, identifier, password string) (*accounts.LoginResult, error) {
	if b.blockOn != "LoginWithPassword" {
		return b.MockService.LoginWithPassword(ctx, identifier, password)
	}
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return &accounts.LoginResult{Identity: &accounts.Identity{ID: "u1"}}, nil
}

func (b *blockingService) VerifyMfa(ctx context.Context, req accounts.MfaRequest) (*accounts.LoginResult, error) {
	if b.blockOn != "VerifyMfa" {
		return b.MockService.VerifyMfa(ctx, req)
	}
	b.calls.Add(1)
	close(b.started)
	<-b.release
	return &accounts.LoginResult{Identity: &accounts.Identity{ID: "u1"}}, nil
}

func TestLoginFlowMfaStateFrozenWhileSubmissionInFlight(t *testing.T) {
	service := &blockingService{
		MockService: new(MockService),
		blockOn:     "VerifyMfa",
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)
	service.On("LoginWithPassword", mock.Anything, "alice", "pw").
		Return(&accounts.LoginResult{Challenge: &accounts.MfaChallenge{
			UserID:  "u1",
			Methods: []accounts.Method{accounts.MethodTOTP, accounts.MethodSMS},
		}}, nil)

	store := accounts.NewSessionStore(service).WithLogger(testLogger{})
	flow := accounts.NewLoginFlow(service, store).WithLogger(testLogger{})

	ctx := context.Background()
	require.NoError(t, flow.SubmitIdentifier(ctx, "alice"))
	require.NoError(t, flow.SubmitPassword(ctx, "pw"))

	flow.EnterCode("123456")
	done := make(chan error, 1)
	go func() { done <- flow.SubmitMfa(ctx) }()
	<-service.started

	// Switching methods or re-resuming mid-verification is refused so the
	// pending result cannot be misattributed.
	require.Error(t, flow.SelectMethod(accounts.MethodSMS))
	require.Error(t, flow.ResumeMfa(accounts.NavState{Challenge: &accounts.MfaChallenge{
		UserID:  "u1",
		Methods: []accounts.Method{accounts.MethodSMS},
	}}))
	assert.Equal(t, accounts.MethodTOTP, flow.SelectedMethod())

	close(service.release)
	require.NoError(t, <-done)
	assert.Equal(t, accounts.StepDone, flow.Step())
	require.NotNil(t, store.Current().Identity)
}

func TestLoginFlowRejectsDoubleSubmission(t *testing.T) {
	service := &blockingService{
		MockService: new(MockService),
		blockOn:     "CheckIdentifier",
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	store := accounts.NewSessionStore(service).WithLogger(testLogger{})
	flow := accounts.NewLoginFlow(service, store).WithLogger(testLogger{})

	done := make(chan error, 1)
	go func() {
		done <- flow.SubmitIdentifier(context.Background(), "alice")
	}()
	<-service.started

	err := flow.SubmitIdentifier(context.Background(), "alice")
	require.Error(t, err)

	close(service.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), service.calls.Load())
	assert.Equal(t, accounts.StepCredential, flow.Step())
}

func TestLoginFlowStaleResponseIsDropped(t *testing.T) {
	service := &blockingService{
		MockService: new(MockService),
		blockOn:     "LoginWithPassword",
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	service.On("CheckIdentifier", mock.Anything, "alice").
		Return(&accounts.IdentifierCheck{Exists: true}, nil)

	store := accounts.NewSessionStore(service).WithLogger(testLogger{})
	nav := &recordingNavigator{}
	flow := accounts.NewLoginFlow(service, store).
		WithNavigator(nav).
		WithLogger(testLogger{})

	require.NoError(t, flow.SubmitIdentifier(context.Background(), "alice"))
	require.Equal(t, accounts.StepCredential, flow.Step())

	done := make(chan error, 1)
	go func() {
		done <- flow.SubmitPassword(context.Background(), "pw")
	}()
	<-service.started

	// Backing out while the login is in flight invalidates the result.
	require.NoError(t, flow.Back())
	close(service.release)

	require.NoError(t, <-done)
	assert.Equal(t, accounts.StepIdentify, flow.Step())
	assert.Nil(t, store.Current().Identity)
	assert.Equal(t, 0, nav.count())
}
