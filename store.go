package authstate

import (
	"sync"
)

// Snapshot is a point-in-time view of the store. Guards must treat it as
// stale the moment they read it; their own follow-up calls bound how stale.
type Snapshot struct {
	State     LifecycleState
	Principal *Principal
}

// StateListener is invoked on every transition with the post-transition snapshot.
type StateListener func(Snapshot)

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithStoreLogger overrides the logger used for listener bookkeeping.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTeardown sets a hook invoked when the last subscriber unsubscribes.
// The next Subscribe after teardown re-initializes the store from
// StateInitializing.
func WithTeardown(fn func()) StoreOption {
	return func(s *Store) {
		s.onTeardown = fn
	}
}

// Store holds the latest lifecycle state and resolved principal. It is the
// only mutable shared cell in this package: the machine writes it, everything
// else reads snapshots. Listeners are notified synchronously in registration
// order for every transition, and a listener registered mid-transition
// observes the post-transition state, never a torn one.
//
// The store is constructor-injected, never ambient: callers own its lifetime.
type Store struct {
	mu         sync.Mutex
	state      LifecycleState
	principal  *Principal
	listeners  []*storeListener
	nextID     uint64
	onTeardown func()
	logger     Logger
}

type storeListener struct {
	id uint64
	fn StateListener
}

// NewStore returns a store initialized to StateInitializing.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:  StateInitializing,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Snapshot returns the current state and a copy of the principal.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Principal: s.principal.Clone()}
}

// State returns the current lifecycle state.
func (s *Store) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is a no-op. When the last listener unsubscribes the
// teardown hook runs and the store resets to StateInitializing, so a later
// subscriber starts a fresh lifecycle.
func (s *Store) Subscribe(listener StateListener) func() {
	if listener == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	entry := &storeListener{id: s.nextID, fn: listener}
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.unsubscribe(entry.id)
		})
	}
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	for i, entry := range s.listeners {
		if entry.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			break
		}
	}
	last := len(s.listeners) == 0
	if last {
		s.state = StateInitializing
		s.principal = nil
	}
	teardown := s.onTeardown
	s.mu.Unlock()

	if last && teardown != nil {
		teardown()
	}
}

// set updates the snapshot and notifies listeners in registration order.
// Callers (the machine) have already validated the transition.
func (s *Store) set(state LifecycleState, principal *Principal) {
	s.mu.Lock()
	s.state = state
	s.principal = principal
	snap := Snapshot{State: state, Principal: principal.Clone()}
	listeners := make([]*storeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, entry := range listeners {
		entry.fn(snap)
	}
}
