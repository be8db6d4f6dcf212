package authstate

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionVerifier verifies an opaque session token and resolves it to a
// Session. Errors must be classifiable: IsInvalidSession for absent, expired,
// malformed, or revoked tokens; IsVerifierFault for failures of the
// verification call itself.
type SessionVerifier interface {
	Verify(ctx context.Context, token string, checkRevoked bool) (Session, error)
}

// SessionVerifierFunc adapts a function into a SessionVerifier.
type SessionVerifierFunc func(ctx context.Context, token string, checkRevoked bool) (Session, error)

// Verify satisfies the SessionVerifier interface.
func (f SessionVerifierFunc) Verify(ctx context.Context, token string, checkRevoked bool) (Session, error) {
	if f == nil {
		return nil, ErrSessionInvalid
	}
	return f(ctx, token, checkRevoked)
}

// RecordStore looks up the application-level record backing a verified
// principal. A missing record must satisfy IsRecordMissing.
type RecordStore interface {
	GetByPrincipalID(ctx context.Context, principalID string) (*UserRecord, error)
}

// RecordStoreFunc adapts a function into a RecordStore.
type RecordStoreFunc func(ctx context.Context, principalID string) (*UserRecord, error)

// GetByPrincipalID satisfies the RecordStore interface.
func (f RecordStoreFunc) GetByPrincipalID(ctx context.Context, principalID string) (*UserRecord, error) {
	if f == nil {
		return nil, ErrRecordNotFound
	}
	return f(ctx, principalID)
}

// SessionRevoker revokes a session token. Revocation is best-effort from the
// machine's perspective: failures are logged and never block a session clear.
type SessionRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// SessionRevokerFunc adapts a function into a SessionRevoker.
type SessionRevokerFunc func(ctx context.Context, token string) error

// Revoke satisfies the SessionRevoker interface.
func (f SessionRevokerFunc) Revoke(ctx context.Context, token string) error {
	if f == nil {
		return nil
	}
	return f(ctx, token)
}

// TokenSource reads the ambient session credential, wherever it lives for the
// caller (request cookie, header, local store). An empty token with a nil
// error means "no session present".
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function into a TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// CurrentToken satisfies the TokenSource interface.
func (f TokenSourceFunc) CurrentToken(ctx context.Context) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx)
}

// StaticTokenSource returns a fixed token, useful for tests and CLI callers.
type StaticTokenSource struct {
	Token string
}

// CurrentToken satisfies the TokenSource interface.
func (s StaticTokenSource) CurrentToken(context.Context) (string, error) {
	return s.Token, nil
}

// OnboardingStatus is the outcome of an onboarding-completion lookup.
type OnboardingStatus struct {
	OnboardingCompleted   bool `json:"onboarding_completed"`
	HasActiveSubscription bool `json:"has_active_subscription"`
}

// OnboardingChecker reports whether the principal finished onboarding and
// whether a subscription is active. Errors must be classifiable:
// ErrOnboardingUnauthorized for sessions that expired mid-flight,
// IsRecordMissing for a missing backing record.
type OnboardingChecker interface {
	Check(ctx context.Context, principalID string) (OnboardingStatus, error)
}

// OnboardingCheckerFunc adapts a function into an OnboardingChecker.
type OnboardingCheckerFunc func(ctx context.Context, principalID string) (OnboardingStatus, error)

// Check satisfies the OnboardingChecker interface.
func (f OnboardingCheckerFunc) Check(ctx context.Context, principalID string) (OnboardingStatus, error) {
	if f == nil {
		return OnboardingStatus{}, ErrRecordNotFound
	}
	return f(ctx, principalID)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHSTATE "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
