package authstate

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

// SessionFromFiber reads the parsed session token a JWT middleware left in
// locals and maps it to a Session.
func SessionFromFiber(c *fiber.Ctx, key string) (Session, error) {
	token := c.Locals(key)
	if token == nil {
		return nil, ErrSessionAbsent
	}

	parsed, ok := token.(*jwt.Token)
	if parsed == nil || !ok {
		return nil, ErrSessionInvalid
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if claims == nil || !ok {
		return nil, ErrSessionInvalid
	}

	return sessionFromClaims(claims)
}

// SetSessionCookie writes the session token cookie with the hardened
// attributes every session cookie in the app carries.
func SetSessionCookie(c *fiber.Ctx, name, token string, duration time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    token,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// ClearSessionCookie expires the session token cookie.
func ClearSessionCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// SessionController owns the session lifecycle routes: logout and a small
// status endpoint views poll to re-render on state changes.
type SessionController struct {
	ctrl       LifecycleController
	cfg        Config
	nav        Navigator
	cookieName string
	Logger     Logger
}

// NewSessionController builds the controller.
func NewSessionController(ctrl LifecycleController, cfg Config) *SessionController {
	if cfg == nil {
		cfg = DefaultGuardConfig()
	}
	return &SessionController{
		ctrl:       ctrl,
		cfg:        cfg,
		nav:        NewNavigator(),
		cookieName: DefaultCookieName,
		Logger:     defLogger{},
	}
}

// RegisterRoutes wires the controller's routes into the given router.
func RegisterRoutes[T any](app router.Router[T], controller *SessionController) {
	app.Post("/logout", controller.Logout)
	app.Get("/session/status", controller.Status)
}

// Logout clears the session and hard-redirects to the sign-in entry point.
// Clearing always succeeds from the caller's perspective.
func (s *SessionController) Logout(c router.Context) error {
	s.ctrl.ClearSession(c.Context())

	c.Cookie(&router.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return s.nav.TerminalRedirect(c, s.cfg.GetLoginPath(), "")
}

// Status reports the current lifecycle state and principal.
func (s *SessionController) Status(c router.Context) error {
	snap := s.ctrl.Snapshot()

	body := router.ViewContext{
		"state":    snap.State,
		"terminal": snap.State.IsTerminal(),
	}
	if snap.Principal != nil {
		body["principal"] = snap.Principal
	}

	return c.JSON(router.StatusOK, body)
}
