package authstate

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_AUTH_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_AUTH_STATE"
)

// ErrInvalidTransition is returned when a requested lifecycle change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to continue a verification cycle
// past a terminal state without restarting it.
var ErrTerminalState = goerrors.New("auth state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// LifecycleState identifies where a verification cycle currently stands.
// Exactly one state is active at a time; a cycle only moves forward until it
// reaches a terminal state, and restarting a cycle re-enters StateInitializing.
type LifecycleState string

const (
	// StateInitializing is the entry state; no verification attempted yet.
	StateInitializing LifecycleState = "initializing"
	// StateVerifyingSession means a token was found and verification is in flight.
	StateVerifyingSession LifecycleState = "verifying_session"
	// StateSyncingRecord means the token verified and the backing record lookup is in flight.
	StateSyncingRecord LifecycleState = "syncing_record"
	// StateAuthenticated is terminal: principal fully resolved, record exists.
	StateAuthenticated LifecycleState = "authenticated"
	// StateSessionOnly is terminal: valid token but no backing record.
	// It signals an upstream provisioning inconsistency and requires a forced logout.
	StateSessionOnly LifecycleState = "session_only"
	// StateUnauthenticated is terminal: no valid session.
	StateUnauthenticated LifecycleState = "unauthenticated"
	// StateAuthError is terminal: verification or lookup faulted unexpectedly.
	StateAuthError LifecycleState = "auth_error"
)

// IsValid checks the state against the known set.
func (s LifecycleState) IsValid() bool {
	switch s {
	case StateInitializing, StateVerifyingSession, StateSyncingRecord,
		StateAuthenticated, StateSessionOnly, StateUnauthenticated, StateAuthError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a verification cycle ends in this state.
func (s LifecycleState) IsTerminal() bool {
	switch s {
	case StateAuthenticated, StateSessionOnly, StateUnauthenticated, StateAuthError:
		return true
	default:
		return false
	}
}

// lifecycleTransitions is the legal transition graph. Every state may move to
// StateUnauthenticated because an explicit session clear is always effective,
// and every state may re-enter StateInitializing when a new cycle starts:
// cycle serialization is the machine's in-flight latch, not the table, and a
// cycle aborted mid-flight (a failing transition hook) must not strand the
// store in a state no restart can leave.
var lifecycleTransitions = map[LifecycleState]map[LifecycleState]struct{}{
	StateInitializing: {
		StateVerifyingSession: {},
		StateUnauthenticated:  {},
	},
	StateVerifyingSession: {
		StateInitializing:    {},
		StateSyncingRecord:   {},
		StateUnauthenticated: {},
		StateAuthError:       {},
	},
	StateSyncingRecord: {
		StateInitializing:    {},
		StateAuthenticated:   {},
		StateSessionOnly:     {},
		StateUnauthenticated: {},
		StateAuthError:       {},
	},
	StateAuthenticated: {
		StateInitializing:    {},
		StateUnauthenticated: {},
	},
	StateSessionOnly: {
		StateInitializing:    {},
		StateUnauthenticated: {},
	},
	StateUnauthenticated: {
		StateInitializing: {},
	},
	StateAuthError: {
		StateInitializing:    {},
		StateUnauthenticated: {},
	},
}

func canTransition(from, to LifecycleState) bool {
	if from == to {
		return true
	}
	if allowed, ok := lifecycleTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}
