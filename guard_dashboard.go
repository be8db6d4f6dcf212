package authstate

import (
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// DashboardGuard gates protected routes on the full lifecycle: it drives the
// machine to a terminal state (bounded by the configured timeout), routes
// every unauthenticated-class outcome to its entry point with a reason code,
// and for authenticated principals runs the onboarding check before letting
// the request through.
type DashboardGuard struct {
	ctrl       LifecycleController
	factory    ControllerFactory
	onboarding OnboardingChecker
	cfg        Config
	nav        Navigator
	heal       func(principalID string)
	logger     Logger
	redirected atomic.Bool
}

type DashboardGuardOption func(*DashboardGuard)

// WithGuardLogger overrides the default logger.
func WithGuardLogger(logger Logger) DashboardGuardOption {
	return func(g *DashboardGuard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardNavigator overrides the navigation primitives.
func WithGuardNavigator(nav Navigator) DashboardGuardOption {
	return func(g *DashboardGuard) {
		if nav != nil {
			g.nav = nav
		}
	}
}

// WithControllerFactory makes the guard build a request-scoped controller
// instead of sharing the one it was constructed with.
func WithControllerFactory(factory ControllerFactory) DashboardGuardOption {
	return func(g *DashboardGuard) {
		g.factory = factory
	}
}

// WithOnboardingHealer installs the fire-and-forget correction dispatched
// when a record carries an active subscription but the onboarding flag is
// still false. See FireAndForgetHealer.
func WithOnboardingHealer(heal func(principalID string)) DashboardGuardOption {
	return func(g *DashboardGuard) {
		g.heal = heal
	}
}

// NewDashboardGuard builds the guard. ctrl may be nil when a
// ControllerFactory option is provided.
func NewDashboardGuard(ctrl LifecycleController, onboarding OnboardingChecker, cfg Config, opts ...DashboardGuardOption) *DashboardGuard {
	if cfg == nil {
		cfg = DefaultGuardConfig()
	}

	g := &DashboardGuard{
		ctrl:       ctrl,
		onboarding: onboarding,
		cfg:        cfg,
		nav:        NewNavigator(),
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// Middleware adapts the guard for router registration. Each request gets a
// fresh clone so the one-shot redirect latch never leaks across requests.
func (g *DashboardGuard) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			return g.clone().Handle(c, next)
		}
	}
}

func (g *DashboardGuard) clone() *DashboardGuard {
	return &DashboardGuard{
		ctrl:       g.ctrl,
		factory:    g.factory,
		onboarding: g.onboarding,
		cfg:        g.cfg,
		nav:        g.nav,
		heal:       g.heal,
		logger:     g.logger,
	}
}

// Handle runs the guard for one request. It is safe to invoke twice on the
// same instance: the redirect latch guarantees at most one navigation side
// effect, even when the surrounding environment fires the entry point again.
func (g *DashboardGuard) Handle(c router.Context, next router.HandlerFunc) error {
	ctrl := g.controller(c)

	snap, resolved := awaitTerminal(c.Context(), ctrl, g.cfg.GetDashboardTimeout(), g.logger)
	if !resolved {
		g.logger.Error(
			"lifecycle did not reach a terminal state within %s, treating as stuck",
			g.cfg.GetDashboardTimeout(),
		)
		return g.redirect(c, g.cfg.GetLoginPath(), ReasonTimeout)
	}

	switch snap.State {
	case StateAuthenticated:
		return g.authenticated(c, ctrl, snap.Principal, next)
	case StateSessionOnly:
		ctrl.ClearSession(c.Context())
		return g.redirect(c, g.cfg.GetSignupPath(), ReasonAccountNotFound)
	case StateAuthError:
		return g.redirect(c, g.cfg.GetLoginPath(), ReasonAuthError)
	default:
		return g.redirect(c, g.cfg.GetLoginPath(), "")
	}
}

func (g *DashboardGuard) authenticated(c router.Context, ctrl LifecycleController, principal *Principal, next router.HandlerFunc) error {
	if principal == nil {
		return g.redirect(c, g.cfg.GetLoginPath(), ReasonAuthError)
	}

	status, err := g.onboarding.Check(c.Context(), principal.ID)
	if err != nil {
		if goerrors.Is(err, ErrOnboardingUnauthorized) {
			return g.redirect(c, g.cfg.GetLoginPath(), ReasonUnauthorized)
		}

		if IsRecordMissing(err) {
			g.logger.Error("record missing for verified principal %s, forcing re-signup", principal.ID)
			ctrl.ClearSession(c.Context())
			return g.redirect(c, g.cfg.GetSignupPath(), ReasonAccountNotFound)
		}

		g.logger.Error("onboarding check failed: %v", err)
		return g.redirect(c, g.cfg.GetLoginPath(), ReasonAuthError)
	}

	if !status.OnboardingCompleted {
		if !status.HasActiveSubscription {
			return g.nav.SoftNavigate(c, g.cfg.GetOnboardingPath())
		}
		// Subscription active but flag never flipped. Correct it without
		// blocking the render; the next pass picks up the fixed record.
		if g.heal != nil {
			g.heal(principal.ID)
		}
	}

	c.Locals(LocalsKeyPrincipal, principal)
	c.SetContext(WithPrincipalContext(c.Context(), principal))

	return next(c)
}

func (g *DashboardGuard) controller(c router.Context) LifecycleController {
	if g.factory != nil {
		return g.factory(c)
	}
	return g.ctrl
}

func (g *DashboardGuard) redirect(c router.Context, destination, reason string) error {
	if !g.redirected.CompareAndSwap(false, true) {
		return nil
	}
	return g.nav.TerminalRedirect(c, destination, reason)
}
