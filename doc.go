// Package authstate owns the authentication lifecycle for a dashboard-style
// application: a state machine driving session verification and record sync
// to a terminal state, a subscribable state container, and route guards that
// turn those states into navigation or rendering decisions.
//
// Lifecycle:
//   - Machine runs one verification cycle per Start call: read the ambient
//     token, verify it, look up the backing user record, and land on exactly
//     one of Authenticated, SessionOnly, Unauthenticated, or AuthError. A
//     fresh cycle restarts from Initializing; a cycle already in flight is
//     rejected rather than interleaved.
//   - Store holds the current state and principal and notifies subscribers
//     synchronously in registration order. When the last subscriber leaves,
//     the store tears down and resets so re-subscription starts clean.
//
// Guards:
//   - DashboardGuard waits (bounded) for a terminal state, routes every
//     unauthenticated-class outcome to its entry point with a reason code,
//     and runs the onboarding check before exposing the principal to
//     handlers. Its redirect fires at most once per pass.
//   - CapabilityGuard checks one named capability under a fixed timeout and
//     fails closed: the first of {result, timeout} to land is sealed and a
//     late result cannot override it. Denial and timeout render distinct
//     panels.
//
// Activity sinks:
//   - ActivitySink receives lifecycle events (state changes, verification
//     failures, session clears) best-effort, so forwarding to a database or
//     queue never blocks a transition.
package authstate
