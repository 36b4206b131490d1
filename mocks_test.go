package accounts_test

import (
	"context"
	"sync"

	accounts "github.com/kerliix/go-accounts"
	"github.com/stretchr/testify/mock"
)

// MockService implements accounts.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) CurrentIdentity(ctx context.Context) (*accounts.Identity, error) {
	args := m.Called(ctx)
	return identityArg(args.Get(0)), args.Error(1)
}

func (m *MockService) RefreshToken(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockService) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockService) CheckIdentifier(ctx context.Context, identifier string) (*accounts.IdentifierCheck, error) {
	args := m.Called(ctx, identifier)
	var check *accounts.IdentifierCheck
	if v := args.Get(0); v != nil {
		check = v.(*accounts.IdentifierCheck)
	}
	return check, args.Error(1)
}

func (m *MockService) LoginWithPassword(ctx context.Context, identifier, password string) (*accounts.LoginResult, error) {
	args := m.Called(ctx, identifier, password)
	return resultArg(args.Get(0)), args.Error(1)
}

func (m *MockService) LoginWithPasskey(ctx context.Context, identifier string) (*accounts.LoginResult, error) {
	args := m.Called(ctx, identifier)
	return resultArg(args.Get(0)), args.Error(1)
}

func (m *MockService) VerifyMfa(ctx context.Context, req accounts.MfaRequest) (*accounts.LoginResult, error) {
	args := m.Called(ctx, req)
	return resultArg(args.Get(0)), args.Error(1)
}

func (m *MockService) Register(ctx context.Context, payload accounts.RegisterPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *MockService) VerifyEmail(ctx context.Context, email, code string) (*accounts.Identity, error) {
	args := m.Called(ctx, email, code)
	return identityArg(args.Get(0)), args.Error(1)
}

func (m *MockService) AddPhone(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}

func (m *MockService) VerifyPhone(ctx context.Context, email, code string) (*accounts.Identity, error) {
	args := m.Called(ctx, email, code)
	return identityArg(args.Get(0)), args.Error(1)
}

func (m *MockService) UploadAvatar(ctx context.Context, image []byte, contentType string) error {
	return m.Called(ctx, image, contentType).Error(0)
}

func (m *MockService) RequestPasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockService) ResetPassword(ctx context.Context, token, password string) error {
	return m.Called(ctx, token, password).Error(0)
}

func identityArg(v any) *accounts.Identity {
	if v == nil {
		return nil
	}
	return v.(*accounts.Identity)
}

func resultArg(v any) *accounts.LoginResult {
	if v == nil {
		return nil
	}
	return v.(*accounts.LoginResult)
}

// recordingNavigator captures every Navigate call.
type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
	state []accounts.NavState
}

func (n *recordingNavigator) Navigate(path string, state accounts.NavState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	n.state = append(n.state, state)
}

func (n *recordingNavigator) last() (string, accounts.NavState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.paths) == 0 {
		return "", accounts.NavState{}, false
	}
	return n.paths[len(n.paths)-1], n.state[len(n.state)-1], true
}

func (n *recordingNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paths)
}

// captureSink records activity events in order.
type captureSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []accounts.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}
