package authstate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func validSession(id string) *authstate.SessionObject {
	return &authstate.SessionObject{
		UserID:      id,
		DisplayName: "Pepe Rone",
		Email:       "pepe.rone@example.com",
	}
}

func TestStartWithoutTokenResolvesUnauthenticated(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	store := authstate.NewStore()
	var seen []authstate.LifecycleState
	unsubscribe := store.Subscribe(func(snap authstate.Snapshot) {
		seen = append(seen, snap.State)
	})
	defer unsubscribe()

	m := authstate.NewMachine(store, authstate.StaticTokenSource{}, verifier, records)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateUnauthenticated, state)

	assert.Equal(t, []authstate.LifecycleState{
		authstate.StateInitializing,
		authstate.StateUnauthenticated,
	}, seen)

	verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	records.AssertNotCalled(t, "GetByPrincipalID", mock.Anything, mock.Anything)
}

func TestStartFullCycleResolvesAuthenticated(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}
	sink := &capturingSink{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{
			PrincipalID: "principal-1",
			DisplayName: "Pepe's Shop",
			Email:       "shop@example.com",
		}, nil).Once()

	store := authstate.NewStore()
	var seen []authstate.LifecycleState
	unsubscribe := store.Subscribe(func(snap authstate.Snapshot) {
		seen = append(seen, snap.State)
	})
	defer unsubscribe()

	m := authstate.NewMachine(
		store,
		authstate.StaticTokenSource{Token: "tok-1"},
		verifier,
		records,
		authstate.WithMachineActivitySink(sink),
	)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthenticated, state)

	assert.Equal(t, []authstate.LifecycleState{
		authstate.StateInitializing,
		authstate.StateVerifyingSession,
		authstate.StateSyncingRecord,
		authstate.StateAuthenticated,
	}, seen)

	snap := m.Snapshot()
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "principal-1", snap.Principal.ID)
	assert.Equal(t, "Pepe's Shop", snap.Principal.Name)

	verified := sink.byType(authstate.ActivityEventSessionVerified)
	require.Len(t, verified, 1)
	assert.Equal(t, "principal-1", verified[0].PrincipalID)

	verifier.AssertExpectations(t)
	records.AssertExpectations(t)
}

func TestStartFillsPrincipalFromSessionWhenRecordSparse(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{PrincipalID: "principal-1"}, nil).Once()

	m := authstate.NewMachine(nil, authstate.StaticTokenSource{Token: "tok-1"}, verifier, records)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	snap := m.Snapshot()
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "Pepe Rone", snap.Principal.Name)
	assert.Equal(t, "pepe.rone@example.com", snap.Principal.Email)
}

func TestStartInvalidTokenResolvesUnauthenticated(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	verifier.On("Verify", mock.Anything, "tok-bad", false).
		Return(nil, authstate.ErrSessionExpired).Once()

	m := authstate.NewMachine(nil, authstate.StaticTokenSource{Token: "tok-bad"}, verifier, records)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateUnauthenticated, state)
	records.AssertNotCalled(t, "GetByPrincipalID", mock.Anything, mock.Anything)
}

func TestStartVerifierFaultResolvesAuthError(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}
	sink := &capturingSink{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(nil, authstate.ErrVerifierFault).Once()

	m := authstate.NewMachine(
		nil,
		authstate.StaticTokenSource{Token: "tok-1"},
		verifier,
		records,
		authstate.WithMachineActivitySink(sink),
	)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthError, state)
	assert.Len(t, sink.byType(authstate.ActivityEventVerifyFailed), 1)
}

func TestStartRecordMissingResolvesSessionOnly(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}
	sink := &capturingSink{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(nil, authstate.ErrRecordNotFound).Once()

	m := authstate.NewMachine(
		nil,
		authstate.StaticTokenSource{Token: "tok-1"},
		verifier,
		records,
		authstate.WithMachineActivitySink(sink),
	)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateSessionOnly, state)
	assert.Nil(t, m.Snapshot().Principal)

	missing := sink.byType(authstate.ActivityEventRecordMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, "principal-1", missing[0].PrincipalID)
}

func TestStartRecordLookupFaultResolvesAuthError(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(nil, errors.New("connection refused")).Once()

	m := authstate.NewMachine(nil, authstate.StaticTokenSource{Token: "tok-1"}, verifier, records)

	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthError, state)
}

func TestStartIsNotReentrant(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	release := make(chan struct{})
	verifier.On("Verify", mock.Anything, "tok-1", false).
		Run(func(mock.Arguments) { <-release }).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{PrincipalID: "principal-1"}, nil).Once()

	m := authstate.NewMachine(nil, authstate.StaticTokenSource{Token: "tok-1"}, verifier, records)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.Start(context.Background())
		assert.NoError(t, err)
	}()

	assert.Eventually(t, func() bool {
		return m.Snapshot().State == authstate.StateVerifyingSession
	}, time.Second, 5*time.Millisecond)

	_, err := m.Start(context.Background())
	assert.ErrorIs(t, err, authstate.ErrVerificationInFlight)

	close(release)
	wg.Wait()
	assert.Equal(t, authstate.StateAuthenticated, m.Snapshot().State)
}

func TestStartRestartsFromTerminalState(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Twice()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{PrincipalID: "principal-1"}, nil).Twice()

	m := authstate.NewMachine(nil, authstate.StaticTokenSource{Token: "tok-1"}, verifier, records)

	for i := 0; i < 2; i++ {
		state, err := m.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, authstate.StateAuthenticated, state)
	}
	verifier.AssertExpectations(t)
}

func TestClearSessionSucceedsWhenRevokeFails(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}
	revoker := &MockRevoker{}
	sink := &capturingSink{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Once()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{PrincipalID: "principal-1"}, nil).Once()
	revoker.On("Revoke", mock.Anything, "tok-1").
		Return(errors.New("revocation service down")).Once()

	m := authstate.NewMachine(
		nil,
		authstate.StaticTokenSource{Token: "tok-1"},
		verifier,
		records,
		authstate.WithSessionRevoker(revoker),
		authstate.WithMachineActivitySink(sink),
	)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	m.ClearSession(context.Background())

	snap := m.Snapshot()
	assert.Equal(t, authstate.StateUnauthenticated, snap.State)
	assert.Nil(t, snap.Principal)

	cleared := sink.byType(authstate.ActivityEventSessionCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, "principal-1", cleared[0].PrincipalID)
	revoker.AssertExpectations(t)
}

func TestMachineRunsHooksAroundTransitions(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	var before, after []authstate.TransitionContext

	m := authstate.NewMachine(
		nil,
		authstate.StaticTokenSource{},
		verifier,
		records,
		authstate.WithBeforeTransitionHook(func(_ context.Context, tc authstate.TransitionContext) error {
			before = append(before, tc)
			return nil
		}),
		authstate.WithAfterTransitionHook(func(_ context.Context, tc authstate.TransitionContext) error {
			after = append(after, tc)
			return nil
		}),
	)

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	require.Len(t, before, 2)
	require.Len(t, after, 2)
	assert.Equal(t, authstate.StateUnauthenticated, before[1].To)
	assert.Equal(t, before[1].To, after[1].To)
}

func TestStartRecoversAfterCycleAbortedMidFlight(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	verifier.On("Verify", mock.Anything, "tok-1", false).
		Return(validSession("principal-1"), nil).Twice()
	records.On("GetByPrincipalID", mock.Anything, "principal-1").
		Return(&authstate.UserRecord{PrincipalID: "principal-1"}, nil).Once()

	hookErr := errors.New("audit log unavailable")
	failing := true

	m := authstate.NewMachine(
		authstate.NewStore(),
		authstate.StaticTokenSource{Token: "tok-1"},
		verifier,
		records,
		authstate.WithBeforeTransitionHook(func(_ context.Context, tc authstate.TransitionContext) error {
			if failing && tc.To == authstate.StateSyncingRecord {
				return hookErr
			}
			return nil
		}),
		authstate.WithMachineHookErrorHandler(func(_ context.Context, _ authstate.TransitionHookPhase, err error, _ authstate.TransitionContext) error {
			return err
		}),
	)

	// the aborted cycle strands the store in a non-terminal state
	_, err := m.Start(context.Background())
	require.ErrorIs(t, err, hookErr)
	assert.Equal(t, authstate.StateVerifyingSession, m.Snapshot().State)

	// a later cycle must still be able to restart and resolve
	failing = false
	state, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthenticated, state)
	assert.Equal(t, authstate.StateAuthenticated, m.Snapshot().State)
}

func TestMachineHookErrorHandlerReceivesFailure(t *testing.T) {
	verifier := &MockVerifier{}
	records := &MockRecordStore{}

	hookErr := errors.New("audit log unavailable")
	var phaseSeen authstate.TransitionHookPhase

	m := authstate.NewMachine(
		nil,
		authstate.StaticTokenSource{},
		verifier,
		records,
		authstate.WithBeforeTransitionHook(func(context.Context, authstate.TransitionContext) error {
			return hookErr
		}),
		authstate.WithMachineHookErrorHandler(func(_ context.Context, phase authstate.TransitionHookPhase, err error, _ authstate.TransitionContext) error {
			phaseSeen = phase
			return err
		}),
	)

	_, err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, authstate.HookPhaseBefore, phaseSeen)
}
