package authstate

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// CapabilityOutcome is the sealed result of one capability pass. Once sealed
// it never changes: a check resolving after the timeout fired cannot flip a
// rendered failure into a success.
type CapabilityOutcome struct {
	Granted  bool
	TimedOut bool
	Reason   string
	Err      error
}

// CapabilityGuard gates a route on one named capability. The check runs under
// a fixed wall-clock timeout and fails closed: if it has not resolved when
// the timer fires, the guard renders a retry-capable error panel instead of
// hanging. An explicit denial renders a distinct access-denied panel.
type CapabilityGuard struct {
	checker     CapabilityChecker
	capability  string
	cfg         Config
	broadcaster *CapabilityBroadcaster
	logger      Logger
	outcome     atomic.Pointer[CapabilityOutcome]

	// DeniedHandler renders the access-denied panel. TimeoutHandler renders
	// the timed-out/errored panel offering retry or escape to a safe area.
	DeniedHandler  func(c router.Context, outcome CapabilityOutcome) error
	TimeoutHandler func(c router.Context, outcome CapabilityOutcome) error
}

type CapabilityGuardOption func(*CapabilityGuard)

// WithCapabilityLogger overrides the default logger.
func WithCapabilityLogger(logger Logger) CapabilityGuardOption {
	return func(g *CapabilityGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCapabilityBroadcaster publishes each sealed outcome so views outside
// the guarded route observe grant changes from one source.
func WithCapabilityBroadcaster(b *CapabilityBroadcaster) CapabilityGuardOption {
	return func(g *CapabilityGuard) {
		g.broadcaster = b
	}
}

// NewCapabilityGuard builds a guard for one named capability.
func NewCapabilityGuard(checker CapabilityChecker, capability string, cfg Config, opts ...CapabilityGuardOption) *CapabilityGuard {
	if cfg == nil {
		cfg = DefaultGuardConfig()
	}

	g := &CapabilityGuard{
		checker:    checker,
		capability: capability,
		cfg:        cfg,
		logger:     defLogger{},
	}

	g.DeniedHandler = g.defaultDeniedHandler
	g.TimeoutHandler = g.defaultTimeoutHandler

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Middleware adapts the guard for router registration, cloning per request
// so each pass seals its own outcome.
func (g *CapabilityGuard) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			return g.clone().Handle(c, next)
		}
	}
}

func (g *CapabilityGuard) clone() *CapabilityGuard {
	clone := &CapabilityGuard{
		checker:     g.checker,
		capability:  g.capability,
		cfg:         g.cfg,
		broadcaster: g.broadcaster,
		logger:      g.logger,
	}
	clone.DeniedHandler = g.DeniedHandler
	clone.TimeoutHandler = g.TimeoutHandler
	return clone
}

// Handle runs the capability check for one request. The outcome is sealed
// exactly once: whichever of {check result, timeout} lands first wins, and
// the loser is dropped. Repeat invocations on the same instance resolve to
// the already-sealed outcome and never block. Use Outcome to inspect what
// was sealed.
func (g *CapabilityGuard) Handle(c router.Context, next router.HandlerFunc) error {
	timeout := g.cfg.GetCapabilityTimeout()
	results := make(chan CapabilityOutcome, 1)

	go func() {
		result, err := g.checker.Check(c.Context(), g.capability)
		outcome := CapabilityOutcome{Granted: result.Granted, Reason: result.Reason, Err: err}
		if err != nil {
			outcome.Granted = false
			if outcome.Reason == "" {
				outcome.Reason = ReasonAuthError
			}
		}
		results <- outcome
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome CapabilityOutcome
	select {
	case outcome = <-results:
	case <-timer.C:
		outcome = CapabilityOutcome{TimedOut: true, Reason: ReasonTimeout}
	}

	// Only the first seal sticks. A repeat invocation answers with the
	// sealed outcome of the pass that won, and a check resolving after its
	// own timeout sealed stays in the buffered channel, unread.
	if !g.seal(outcome) {
		if sealed, ok := g.Outcome(); ok {
			outcome = sealed
		}
	}

	g.publish(outcome)

	if outcome.TimedOut {
		g.logger.Error("capability %q check did not resolve within %s", g.capability, timeout)
		return g.TimeoutHandler(c, outcome)
	}

	if outcome.Err != nil {
		g.logger.Error(
			"capability %q check failed: %s",
			g.capability, print.MaybePrettyJSON(outcome.Err),
		)
		return g.TimeoutHandler(c, outcome)
	}

	if !outcome.Granted {
		return g.DeniedHandler(c, outcome)
	}

	return next(c)
}

// Outcome returns the sealed outcome of this pass, if any.
func (g *CapabilityGuard) Outcome() (CapabilityOutcome, bool) {
	if o := g.outcome.Load(); o != nil {
		return *o, true
	}
	return CapabilityOutcome{}, false
}

func (g *CapabilityGuard) seal(outcome CapabilityOutcome) bool {
	return g.outcome.CompareAndSwap(nil, &outcome)
}

func (g *CapabilityGuard) publish(outcome CapabilityOutcome) {
	if g.broadcaster == nil {
		return
	}
	g.broadcaster.Publish(CapabilityChange{
		Name:    g.capability,
		Granted: outcome.Granted && !outcome.TimedOut,
	})
}

func (g *CapabilityGuard) defaultDeniedHandler(c router.Context, outcome CapabilityOutcome) error {
	return c.Status(http.StatusForbidden).Render("errors/403", router.ViewContext{
		"capability": g.capability,
		"reason":     outcome.Reason,
		"escape":     g.cfg.GetEscapePath(),
	})
}

func (g *CapabilityGuard) defaultTimeoutHandler(c router.Context, outcome CapabilityOutcome) error {
	reason := outcome.Reason
	if reason == "" {
		reason = ReasonTimeout
	}
	return c.Status(http.StatusGatewayTimeout).Render("errors/timeout", router.ViewContext{
		"capability": g.capability,
		"reason":     reason,
		"retry":      c.OriginalURL(),
		"escape":     g.cfg.GetEscapePath(),
	})
}
