package authstate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	From      LifecycleState
	To        LifecycleState
	Principal *Principal
	Reason    string
}

// TransitionHook is executed around each state transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after the store update.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// MachineOption customizes machine construction.
type MachineOption func(*Machine)

// WithMachineClock injects a custom clock (useful for tests).
func WithMachineClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithMachineLogger overrides the default logger.
func WithMachineLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithMachineActivitySink(sink ActivitySink) MachineOption {
	return func(m *Machine) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionRevoker wires the revoker used by ClearSession.
func WithSessionRevoker(revoker SessionRevoker) MachineOption {
	return func(m *Machine) {
		m.revoker = revoker
	}
}

// WithRevocationCheck makes Verify consult the revocation list on every cycle.
func WithRevocationCheck() MachineOption {
	return func(m *Machine) {
		m.checkRevoked = true
	}
}

// WithBeforeTransitionHook adds a hook executed before each store update.
func WithBeforeTransitionHook(h TransitionHook) MachineOption {
	return func(m *Machine) {
		if h != nil {
			m.beforeHooks = append(m.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after each store update.
func WithAfterTransitionHook(h TransitionHook) MachineOption {
	return func(m *Machine) {
		if h != nil {
			m.afterHooks = append(m.afterHooks, h)
		}
	}
}

// WithMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithMachineHookErrorHandler(handler HookErrorHandler) MachineOption {
	return func(m *Machine) {
		if handler != nil {
			m.hookErrorHandler = handler
		}
	}
}

// Machine owns the authentication lifecycle and drives the store to exactly
// one terminal state per verification cycle. It is the only writer of the
// store it was constructed with.
type Machine struct {
	store            *Store
	tokens           TokenSource
	verifier         SessionVerifier
	records          RecordStore
	revoker          SessionRevoker
	checkRevoked     bool
	now              func() time.Time
	logger           Logger
	activitySink     ActivitySink
	beforeHooks      []TransitionHook
	afterHooks       []TransitionHook
	hookErrorHandler HookErrorHandler
	inFlight         atomic.Bool
}

// NewMachine builds a machine around its collaborators. The store may be nil,
// in which case a fresh one is created; retrieve it with Store for guards.
func NewMachine(store *Store, tokens TokenSource, verifier SessionVerifier, records RecordStore, opts ...MachineOption) *Machine {
	if store == nil {
		store = NewStore()
	}

	m := &Machine{
		store:        store,
		tokens:       tokens,
		verifier:     verifier,
		records:      records,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Store exposes the state container so guards and views can subscribe.
func (m *Machine) Store() *Store {
	return m.store
}

// Snapshot returns the store's current snapshot.
func (m *Machine) Snapshot() Snapshot {
	return m.store.Snapshot()
}

// Subscribe registers a listener on the underlying store.
func (m *Machine) Subscribe(listener StateListener) func() {
	return m.store.Subscribe(listener)
}

// Start runs one full verification cycle and returns the terminal state it
// resolved to. It is not re-entrant: a second Start while a cycle is in
// flight returns ErrVerificationInFlight without touching the store. Every
// entry resolves to exactly one of Authenticated, SessionOnly,
// Unauthenticated, or AuthError once its dependent calls return.
func (m *Machine) Start(ctx context.Context) (LifecycleState, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return "", ErrVerificationInFlight
	}
	defer m.inFlight.Store(false)

	if err := m.transition(ctx, StateInitializing, nil, "cycle start"); err != nil {
		return "", err
	}

	token, err := m.currentToken(ctx)
	if err != nil || token == "" {
		if err != nil && !IsInvalidSession(err) {
			m.logger.Warn("token source error, treating as absent session", "error", err)
		}
		return m.terminal(ctx, StateUnauthenticated, nil, "no session token")
	}

	if err := m.transition(ctx, StateVerifyingSession, nil, "token present"); err != nil {
		return "", err
	}

	session, err := m.verifier.Verify(ctx, token, m.checkRevoked)
	if err != nil {
		if IsInvalidSession(err) {
			m.logger.Debug("session token rejected", "error", err)
			return m.terminal(ctx, StateUnauthenticated, nil, "invalid session token")
		}
		m.logger.Error("session verification fault", "error", err)
		m.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventVerifyFailed,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return m.terminal(ctx, StateAuthError, nil, "verifier fault")
	}

	if err := m.transition(ctx, StateSyncingRecord, nil, "session verified"); err != nil {
		return "", err
	}

	record, err := m.records.GetByPrincipalID(ctx, session.GetUserID())
	if err != nil {
		if IsRecordMissing(err) {
			// Valid credential without a backing record: upstream provisioning
			// failed or the record was deleted. Always logged at error severity.
			m.logger.Error("no application record for verified session", "principal", session.GetUserID())
			m.emitEvent(ctx, ActivityEvent{
				EventType:   ActivityEventRecordMissing,
				PrincipalID: session.GetUserID(),
			})
			return m.terminal(ctx, StateSessionOnly, nil, "record missing")
		}
		m.logger.Error("record lookup fault", "principal", session.GetUserID(), "error", err)
		return m.terminal(ctx, StateAuthError, nil, "record lookup fault")
	}

	principal := record.Principal()
	if principal.Name == "" {
		principal.Name = session.GetDisplayName()
	}
	if principal.Email == "" {
		principal.Email = session.GetEmail()
	}

	m.emitEvent(ctx, ActivityEvent{
		EventType:   ActivityEventSessionVerified,
		PrincipalID: principal.ID,
	})

	return m.terminal(ctx, StateAuthenticated, principal, "record resolved")
}

// ClearSession best-effort revokes the current token and always leaves the
// store in StateUnauthenticated with the principal cleared. Revoke failures
// are logged, never surfaced: clearing a session must be unconditionally
// effective from the caller's perspective.
func (m *Machine) ClearSession(ctx context.Context) {
	snap := m.store.Snapshot()

	if m.revoker != nil {
		if token, err := m.currentToken(ctx); err == nil && token != "" {
			if err := m.revoker.Revoke(ctx, token); err != nil {
				m.logger.Warn("session revoke failed", "error", err)
			}
		}
	}

	m.store.set(StateUnauthenticated, nil)

	m.emitEvent(ctx, ActivityEvent{
		EventType:   ActivityEventSessionCleared,
		PrincipalID: principalID(snap.Principal),
		FromState:   snap.State,
		ToState:     StateUnauthenticated,
	})
}

func (m *Machine) currentToken(ctx context.Context) (string, error) {
	if m.tokens == nil {
		return "", nil
	}
	return m.tokens.CurrentToken(ctx)
}

// terminal performs the final transition of a cycle.
func (m *Machine) terminal(ctx context.Context, to LifecycleState, principal *Principal, reason string) (LifecycleState, error) {
	if err := m.transition(ctx, to, principal, reason); err != nil {
		return "", err
	}
	return to, nil
}

func (m *Machine) transition(ctx context.Context, to LifecycleState, principal *Principal, reason string) error {
	from := m.store.State()
	if from == to && to != StateInitializing {
		return nil
	}

	if !canTransition(from, to) {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}

	tc := TransitionContext{
		From:      from,
		To:        to,
		Principal: principal.Clone(),
		Reason:    reason,
	}

	if err := m.runHooks(ctx, m.beforeHooks, tc, HookPhaseBefore); err != nil {
		return err
	}

	m.store.set(to, principal)

	if err := m.runHooks(ctx, m.afterHooks, tc, HookPhaseAfter); err != nil {
		return err
	}

	m.emitEvent(ctx, ActivityEvent{
		EventType:   ActivityEventStateChanged,
		PrincipalID: principalID(principal),
		FromState:   from,
		ToState:     to,
		Metadata:    transitionMetadata(reason),
	})

	return nil
}

func (m *Machine) runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			if m.hookErrorHandler == nil {
				return err
			}
			return m.hookErrorHandler(ctx, phase, err, tc)
		}
	}
	return nil
}

func (m *Machine) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	sink := normalizeActivitySink(m.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("machine activity sink error: %v", err)
	}
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"go-authstate: %s transition hook failed: %v\nfrom=%s to=%s reason=%s\nProvide authstate.WithMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.From,
		tc.To,
		tc.Reason,
	))
}

func transitionMetadata(reason string) map[string]any {
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}

func principalID(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}
