package authstate

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Reason codes appended to redirect destinations so landing pages can explain
// the failure without ever seeing a raw error.
const (
	ReasonAccountNotFound = "account_not_found"
	ReasonAuthError       = "auth_error"
	ReasonTimeout         = "timeout"
	ReasonUnauthorized    = "unauthorized"
)

// ErrSessionAbsent is returned when no session token is present.
var ErrSessionAbsent = goerrors.New("no session token present", goerrors.CategoryAuth).
	WithTextCode("SESSION_ABSENT").
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionInvalid is returned for malformed or otherwise rejected tokens.
var ErrSessionInvalid = goerrors.New("session token is invalid", goerrors.CategoryAuth).
	WithTextCode("SESSION_INVALID").
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned for well formed tokens past their expiry.
var ErrSessionExpired = goerrors.New("session token is expired", goerrors.CategoryAuth).
	WithTextCode("SESSION_EXPIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRevoked is returned when the token appears on the revocation list.
var ErrSessionRevoked = goerrors.New("session token has been revoked", goerrors.CategoryAuth).
	WithTextCode("SESSION_REVOKED").
	WithCode(goerrors.CodeUnauthorized)

// ErrVerifierFault marks a verification call that failed for reasons other
// than the token itself: network faults, key set refresh failures, 5xx from
// the verification service.
var ErrVerifierFault = goerrors.New("session verification service failed", goerrors.CategoryInternal).
	WithTextCode("VERIFIER_FAULT").
	WithCode(goerrors.CodeInternal)

// ErrRecordNotFound is returned when a verified principal has no backing
// application record. This is the session-only inconsistency.
var ErrRecordNotFound = goerrors.New("no application record for principal", goerrors.CategoryNotFound).
	WithTextCode("ACCOUNT_RECORD_MISSING").
	WithCode(goerrors.CodeNotFound)

// ErrVerificationInFlight is returned when Start is invoked while a prior
// cycle has not reached a terminal state.
var ErrVerificationInFlight = goerrors.New("verification cycle already in flight", goerrors.CategoryConflict).
	WithTextCode("VERIFICATION_IN_FLIGHT").
	WithCode(goerrors.CodeConflict)

// ErrCapabilityDenied is returned when a capability check resolves to an
// explicit denial.
var ErrCapabilityDenied = goerrors.New("capability not granted", goerrors.CategoryAuthz).
	WithTextCode("CAPABILITY_DENIED").
	WithCode(goerrors.CodeForbidden)

// ErrCapabilityTimeout is returned when a capability check does not resolve
// within its deadline. Logged distinctly from denials so operators can tell
// "service down" from "service slow".
var ErrCapabilityTimeout = goerrors.New("capability check timed out", goerrors.CategoryOperation).
	WithTextCode("CAPABILITY_TIMEOUT").
	WithCode(goerrors.CodeInternal)

// ErrOnboardingUnauthorized is returned by onboarding checkers when the
// session expired between authentication and the check.
var ErrOnboardingUnauthorized = goerrors.New("onboarding check unauthorized", goerrors.CategoryAuth).
	WithTextCode("ONBOARDING_UNAUTHORIZED").
	WithCode(goerrors.CodeUnauthorized)

// IsInvalidSession reports whether the error means the credential itself was
// absent, malformed, expired, or revoked. These route to StateUnauthenticated.
func IsInvalidSession(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrSessionAbsent) ||
		goerrors.Is(err, ErrSessionInvalid) ||
		goerrors.Is(err, ErrSessionExpired) ||
		goerrors.Is(err, ErrSessionRevoked) {
		return true
	}
	return IsTokenExpiredError(err) || IsMalformedError(err)
}

// IsVerifierFault reports whether verification failed for reasons unrelated
// to the token. These route to StateAuthError.
func IsVerifierFault(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrVerifierFault)
}

// IsRecordMissing reports whether a lookup resolved to "no backing record".
func IsRecordMissing(err error) bool {
	if err == nil {
		return false
	}
	return goerrors.Is(err, ErrRecordNotFound) || goerrors.IsNotFound(err)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
