package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PasswordResetFlow handles the two-step recovery path: request a reset
// link by email, then finalize with the mailed token and a new password.
// It never touches the session; a finished reset lands back on the login
// screen.
type PasswordResetFlow struct {
	mu         sync.Mutex
	id         string
	busy       bool
	generation uint64

	service Service
	nav     Navigator
	logger  Logger
	sink    ActivitySink
}

// NewPasswordResetFlow creates a reset flow.
func NewPasswordResetFlow(service Service) *PasswordResetFlow {
	return &PasswordResetFlow{
		id:      uuid.New().String(),
		service: service,
		nav:     NavigatorFunc(nil),
		logger:  defLogger{},
		sink:    noopActivitySink{},
	}
}

// WithNavigator sets the host navigation capability.
func (f *PasswordResetFlow) WithNavigator(nav Navigator) *PasswordResetFlow {
	if nav != nil {
		f.nav = nav
	}
	return f
}

// WithLogger overrides the default logger.
func (f *PasswordResetFlow) WithLogger(logger Logger) *PasswordResetFlow {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// WithActivitySink configures an ActivitySink for reset lifecycle events.
func (f *PasswordResetFlow) WithActivitySink(sink ActivitySink) *PasswordResetFlow {
	f.sink = normalizeActivitySink(sink)
	return f
}

// RequestReset validates the email and asks the backend to send a reset
// link. The backend reply is intentionally indistinguishable for known and
// unknown addresses.
func (f *PasswordResetFlow) RequestReset(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}

	gen, err := f.begin()
	if err != nil {
		return err
	}

	err = f.service.RequestPasswordReset(ctx, email)

	f.mu.Lock()
	f.busy = false
	stale := gen != f.generation
	f.mu.Unlock()
	if stale {
		return nil
	}
	if err != nil {
		return err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetStart,
		FlowID:    f.id,
	})
	return nil
}

// FinalizeReset submits the mailed token with the new password. Success
// navigates back to the login screen.
func (f *PasswordResetFlow) FinalizeReset(ctx context.Context, payload ResetPasswordPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	gen, err := f.begin()
	if err != nil {
		return err
	}

	err = f.service.ResetPassword(ctx, payload.Token, payload.Password)

	f.mu.Lock()
	f.busy = false
	stale := gen != f.generation
	f.mu.Unlock()
	if stale {
		return nil
	}
	if err != nil {
		return err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetDone,
		FlowID:    f.id,
	})
	f.nav.Navigate(RouteLogin, NavState{})
	return nil
}

// Abandon discards the flow; in-flight responses are dropped on arrival.
func (f *PasswordResetFlow) Abandon() {
	f.mu.Lock()
	f.generation++
	f.busy = false
	f.mu.Unlock()
}

func (f *PasswordResetFlow) begin() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return 0, ErrSubmissionInFlight
	}
	f.busy = true
	return f.generation, nil
}

func (f *PasswordResetFlow) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := f.sink.Record(ctx, event); err != nil {
		f.logger.Warn("password reset activity sink error: %v", err)
	}
}
