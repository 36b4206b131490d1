package accounts

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Session is the client-side authentication snapshot. Identity is nil until
// a successful login or bootstrap commits one; Loading is true only while a
// bootstrap, login, or logout call is in flight.
type Session struct {
	Identity *Identity
	Loading  bool
}

// Authenticated reports whether the session holds an identity.
func (s Session) Authenticated() bool {
	return s.Identity != nil
}

// SessionStore owns the shared Session value. It is the only component
// allowed to mutate it; flows and guards read snapshots or call into
// Bootstrap, Login, and Logout.
type SessionStore struct {
	mu            sync.Mutex
	session       Session
	token         string
	bootstrapping bool

	service Service
	logger  Logger
	sink    ActivitySink
	now     func() time.Time
}

// NewSessionStore returns a store with no identity. Call Bootstrap once at
// process start to resolve the session from existing credentials.
func NewSessionStore(service Service) *SessionStore {
	return &SessionStore{
		session: Session{Loading: true},
		service: service,
		logger:  defLogger{},
		sink:    noopActivitySink{},
		now:     time.Now,
	}
}

// WithLogger overrides the default logger.
func (s *SessionStore) WithLogger(logger Logger) *SessionStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for session lifecycle events.
func (s *SessionStore) WithActivitySink(sink ActivitySink) *SessionStore {
	s.sink = normalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Current returns a snapshot of the session. The identity is copied so
// callers can never mutate the shared value.
func (s *SessionStore) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Authenticated reports whether an identity is committed.
func (s *SessionStore) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Authenticated()
}

// Bootstrap resolves the current identity on cold start. On an
// unauthenticated response it attempts exactly one token refresh and one
// retried fetch; if that also fails the session degrades to logged out.
// Bootstrap never surfaces an error to its caller: failures are logged and
// the session always settles with Loading false.
func (s *SessionStore) Bootstrap(ctx context.Context) {
	if !s.beginLoading() {
		return
	}

	identity, err := s.service.CurrentIdentity(ctx)
	if err == nil {
		s.commitIdentity(identity)
		s.record(ctx, ActivityEvent{EventType: ActivityEventBootstrap, UserID: identity.ID})
		return
	}

	if !IsUnauthenticated(err) {
		s.logger.Error("bootstrap identity fetch failed: %v", err)
		s.endLoading()
		return
	}

	if err := s.service.RefreshToken(ctx); err != nil {
		s.logger.Info("bootstrap refresh not possible, treating as logged out")
		s.commitIdentity(nil)
		return
	}
	s.record(ctx, ActivityEvent{EventType: ActivityEventTokenRefresh})

	identity, err = s.service.CurrentIdentity(ctx)
	if err != nil {
		if !IsUnauthenticated(err) {
			s.logger.Error("bootstrap retry fetch failed: %v", err)
		}
		s.commitIdentity(nil)
		return
	}

	s.commitIdentity(identity)
	s.record(ctx, ActivityEvent{EventType: ActivityEventBootstrap, UserID: identity.ID})
}

// Login commits an already-authenticated result. The network round trip
// happened in a flow controller; this is a synchronous cache write.
func (s *SessionStore) Login(identity Identity) {
	s.mu.Lock()
	s.session = Session{Identity: &identity}
	s.mu.Unlock()

	s.record(context.Background(), ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    identity.ID,
	})
}

// SetAccessToken records the bearer token returned alongside a login in
// token-mode deployments. Cookie-mode deployments never call this.
func (s *SessionStore) SetAccessToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// TokenExpired reports whether the recorded access token has silently
// expired. It returns true when no token is recorded.
func (s *SessionStore) TokenExpired() bool {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	return TokenExpired(token, s.now())
}

// Logout terminates the server-side session and, only on confirmation,
// clears the cached identity. A failed logout leaves the session untouched
// and surfaces the error so the caller can retry or show feedback.
func (s *SessionStore) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.session.Loading = true
	userID := ""
	if s.session.Identity != nil {
		userID = s.session.Identity.ID
	}
	s.mu.Unlock()

	if err := s.service.Logout(ctx); err != nil {
		s.endLoading()
		return goerrors.Wrap(err, goerrors.CategoryAuth, "logout did not confirm")
	}

	s.mu.Lock()
	s.session = Session{}
	s.token = ""
	s.mu.Unlock()

	s.record(ctx, ActivityEvent{EventType: ActivityEventLogout, UserID: userID})
	return nil
}

func (s *SessionStore) snapshot() Session {
	out := Session{Loading: s.session.Loading}
	if s.session.Identity != nil {
		identity := *s.session.Identity
		out.Identity = &identity
	}
	return out
}

// beginLoading claims the in-flight slot. A second bootstrap while one is
// already running is a no-op.
func (s *SessionStore) beginLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootstrapping {
		return false
	}
	s.bootstrapping = true
	s.session.Loading = true
	return true
}

func (s *SessionStore) endLoading() {
	s.mu.Lock()
	s.session.Loading = false
	s.bootstrapping = false
	s.mu.Unlock()
}

func (s *SessionStore) commitIdentity(identity *Identity) {
	s.mu.Lock()
	s.session = Session{Identity: identity}
	s.bootstrapping = false
	s.mu.Unlock()
}

func (s *SessionStore) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := normalizeActivitySink(s.sink).Record(ctx, event); err != nil {
		s.logger.Warn("session activity sink error: %v", err)
	}
}
