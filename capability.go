package authstate

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-featuregate/gate/guard"
)

// CapabilityResult is the transient outcome of a single capability check.
// It is re-derived on every guard invocation and never persisted.
type CapabilityResult struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// CapabilityChecker answers whether a named capability is granted to the
// current tenant. Callers bound the check with their own timeout.
type CapabilityChecker interface {
	Check(ctx context.Context, name string) (CapabilityResult, error)
}

// CapabilityCheckerFunc adapts a function into a CapabilityChecker.
type CapabilityCheckerFunc func(ctx context.Context, name string) (CapabilityResult, error)

// Check satisfies the CapabilityChecker interface.
func (f CapabilityCheckerFunc) Check(ctx context.Context, name string) (CapabilityResult, error) {
	if f == nil {
		return CapabilityResult{}, ErrCapabilityDenied
	}
	return f(ctx, name)
}

// FeatureGateChecker adapts a feature gate into a CapabilityChecker.
type FeatureGateChecker struct {
	gate gate.FeatureGate
}

// NewFeatureGateChecker wraps a gate.FeatureGate.
func NewFeatureGateChecker(featureGate gate.FeatureGate) *FeatureGateChecker {
	return &FeatureGateChecker{gate: featureGate}
}

// Check satisfies the CapabilityChecker interface.
func (c *FeatureGateChecker) Check(ctx context.Context, name string) (CapabilityResult, error) {
	if c.gate == nil {
		return CapabilityResult{}, ErrCapabilityDenied
	}

	enabled, err := c.gate.Enabled(ctx, name)
	if err != nil {
		return CapabilityResult{}, normalizeCapabilityError(err)
	}

	if !enabled {
		return CapabilityResult{Granted: false, Reason: "capability disabled for tenant"}, nil
	}

	return CapabilityResult{Granted: true}, nil
}

// RequireCapability enforces a capability inside command handlers and other
// non-HTTP call sites, outside the guard's render/redirect flow.
func RequireCapability(ctx context.Context, featureGate gate.FeatureGate, key string) error {
	return guard.Require(ctx, featureGate, key,
		guard.WithDisabledError(ErrCapabilityDenied),
		guard.WithErrorMapper(normalizeCapabilityError),
	)
}

func normalizeCapabilityError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryAuthz, "Capability check failed").
		WithCode(goerrors.CodeForbidden)
}

// CapabilityChange describes a grant flipping for a named capability.
type CapabilityChange struct {
	Name    string
	Granted bool
}

// CapabilityListener receives capability changes.
type CapabilityListener func(CapabilityChange)

// CapabilityBroadcaster is a typed publish/subscribe channel for capability
// updates, so views reacting to grants share one well-defined source instead
// of an ambient broadcast. Listeners run synchronously in registration order.
type CapabilityBroadcaster struct {
	mu        sync.Mutex
	listeners []*capabilityListener
	nextID    uint64
}

type capabilityListener struct {
	id uint64
	fn CapabilityListener
}

// NewCapabilityBroadcaster returns an empty broadcaster.
func NewCapabilityBroadcaster() *CapabilityBroadcaster {
	return &CapabilityBroadcaster{}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *CapabilityBroadcaster) Subscribe(listener CapabilityListener) func() {
	if listener == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	entry := &capabilityListener{id: b.nextID, fn: listener}
	b.listeners = append(b.listeners, entry)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, e := range b.listeners {
				if e.id == entry.id {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers a change to every listener in registration order.
func (b *CapabilityBroadcaster) Publish(change CapabilityChange) {
	b.mu.Lock()
	listeners := make([]*capabilityListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, entry := range listeners {
		entry.fn(change)
	}
}
