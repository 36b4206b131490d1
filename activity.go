package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventBootstrap          ActivityEventType = "session.bootstrap"
	ActivityEventTokenRefresh       ActivityEventType = "session.token.refresh"
	ActivityEventLoginSuccess       ActivityEventType = "session.login.success"
	ActivityEventLoginFailure       ActivityEventType = "session.login.failure"
	ActivityEventLogout             ActivityEventType = "session.logout"
	ActivityEventFlowAdvanced       ActivityEventType = "flow.step.advanced"
	ActivityEventFlowStepFailed     ActivityEventType = "flow.step.failed"
	ActivityEventFlowStepSkipped    ActivityEventType = "flow.step.skipped"
	ActivityEventFlowAbandoned      ActivityEventType = "flow.abandoned"
	ActivityEventRegistration       ActivityEventType = "onboarding.registered"
	ActivityEventPasswordResetStart ActivityEventType = "password.reset.requested"
	ActivityEventPasswordResetDone  ActivityEventType = "password.reset.finalized"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	FlowID     string
	UserID     string
	FromStep   string
	ToStep     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
