package authstate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// LocalsKeyPrincipal is the router locals key under which guards expose the
// resolved principal to downstream handlers.
const LocalsKeyPrincipal = "principal"

// LifecycleController is the slice of the machine the guards drive: kick a
// verification cycle, observe its progress, and clear the session when an
// inconsistency forces a logout. *Machine satisfies it.
type LifecycleController interface {
	Start(ctx context.Context) (LifecycleState, error)
	Snapshot() Snapshot
	Subscribe(listener StateListener) func()
	ClearSession(ctx context.Context)
}

var _ LifecycleController = (*Machine)(nil)

// ControllerFactory builds a per-request controller. Guards that share one
// long-lived machine leave this nil; request-scoped setups use it to bind the
// machine's token source to the incoming request.
type ControllerFactory func(c router.Context) LifecycleController

// RequestControllerFactory returns a factory producing a fresh Machine per
// request, with the token read from the request per cfg's token lookup.
func RequestControllerFactory(verifier SessionVerifier, records RecordStore, cfg Config, opts ...MachineOption) ControllerFactory {
	return func(c router.Context) LifecycleController {
		tokens := NewRouterTokenSource(c, cfg.GetTokenLookup(), cfg.GetAuthScheme())
		return NewMachine(NewStore(), tokens, verifier, records, opts...)
	}
}

// awaitTerminal drives the controller to a terminal state, bounded by
// timeout. It subscribes before inspecting the snapshot so a transition
// landing between the two cannot be missed, and kicks Start only when the
// machine has not begun a cycle yet. The returned snapshot is the one the
// caller must act on: unsubscribing may have been the store's last-listener
// teardown, so re-reading the controller afterwards can observe a reset
// store. The second return is false when the bound expired before a
// terminal state was observed.
func awaitTerminal(ctx context.Context, ctrl LifecycleController, timeout time.Duration, logger Logger) (Snapshot, bool) {
	snapshots := make(chan Snapshot, 8)
	unsubscribe := ctrl.Subscribe(func(snap Snapshot) {
		select {
		case snapshots <- snap:
		default:
		}
	})
	defer unsubscribe()

	last := ctrl.Snapshot()
	if last.State.IsTerminal() {
		return last, true
	}

	if last.State == StateInitializing {
		go func() {
			if _, err := ctrl.Start(ctx); err != nil && !goerrors.Is(err, ErrVerificationInFlight) {
				logger.Error("verification cycle failed: %v", err)
			}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case snap := <-snapshots:
			last = snap
			if snap.State.IsTerminal() {
				return snap, true
			}
		case <-timer.C:
			return last, false
		case <-ctx.Done():
			return last, false
		}
	}
}
