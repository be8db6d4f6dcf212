package authstate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged     ActivityEventType = "auth.state.changed"
	ActivityEventSessionVerified  ActivityEventType = "auth.session.verified"
	ActivityEventSessionCleared   ActivityEventType = "auth.session.cleared"
	ActivityEventVerifyFailed     ActivityEventType = "auth.verify.failed"
	ActivityEventRecordMissing    ActivityEventType = "auth.record.missing"
	ActivityEventCapabilityDenied ActivityEventType = "auth.capability.denied"
)

// ActivityEvent captures audit-friendly information about a lifecycle action.
type ActivityEvent struct {
	EventType   ActivityEventType
	PrincipalID string
	FromState   LifecycleState
	ToState     LifecycleState
	Metadata    map[string]any
	OccurredAt  time.Time
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
