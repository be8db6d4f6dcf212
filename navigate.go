package authstate

import (
	"net/http"
	"net/url"

	"github.com/goliatone/go-router"
)

// HeaderSoftNavigate carries the destination of an interruptible client-side
// navigation. Clients that understand it swap views; everything else keeps
// the current response.
const HeaderSoftNavigate = "X-Navigate"

// Navigator separates the two navigation primitives guards rely on.
//
// TerminalRedirect is a full, uninterruptible navigation used for
// unauthenticated and error states: the response is the redirect, nothing
// rendered later can pre-empt it. SoftNavigate is an in-app transition for
// authenticated users; clients may interrupt or ignore it.
type Navigator interface {
	TerminalRedirect(c router.Context, destination, reason string) error
	SoftNavigate(c router.Context, destination string) error
}

// NavigatorOption customizes the default navigator.
type NavigatorOption func(*routerNavigator)

// WithNavigatorLogger overrides the default logger.
func WithNavigatorLogger(logger Logger) NavigatorOption {
	return func(n *routerNavigator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithReasonParam overrides the query parameter carrying reason codes.
func WithReasonParam(param string) NavigatorOption {
	return func(n *routerNavigator) {
		if param != "" {
			n.reasonParam = param
		}
	}
}

type routerNavigator struct {
	logger      Logger
	reasonParam string
}

// NewNavigator returns the default router-backed navigator.
func NewNavigator(opts ...NavigatorOption) Navigator {
	n := &routerNavigator{
		logger:      defLogger{},
		reasonParam: "error",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

func (n *routerNavigator) TerminalRedirect(c router.Context, destination, reason string) error {
	target := appendQueryParam(destination, n.reasonParam, reason)

	n.logger.Info("terminal redirect", "destination", target, "path", c.OriginalURL())

	// A cached redirect could resurrect a dead session on the next visit.
	c.SetHeader("Cache-Control", "no-store")

	statusCode := http.StatusSeeOther
	if c.Method() == http.MethodGet {
		statusCode = http.StatusFound
	}
	return c.Redirect(target, statusCode)
}

func (n *routerNavigator) SoftNavigate(c router.Context, destination string) error {
	n.logger.Debug("soft navigate", "destination", destination, "path", c.OriginalURL())

	c.SetHeader(HeaderSoftNavigate, destination)
	return c.NoContent(http.StatusNoContent)
}

// appendQueryParam appends key=value to a destination, preserving any
// existing query. An empty value leaves the destination untouched.
func appendQueryParam(destination, key, value string) string {
	if value == "" || key == "" {
		return destination
	}

	u, err := url.Parse(destination)
	if err != nil {
		return destination
	}

	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
