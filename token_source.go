package authstate

import (
	"context"
	"strings"

	"github.com/goliatone/go-router"
)

var defaultTokenLookup = "cookie:" + DefaultCookieName + ",header:" + router.HeaderAuthorization

// DefaultCookieName is where the session token lives unless configured otherwise.
const DefaultCookieName = "app_session"

// TokenExtractor pulls a raw token out of a router context.
type TokenExtractor func(c router.Context) (string, error)

// RouterTokenSource reads the session credential from an HTTP request using
// a lookup string in the jwtware format:
//
//	"cookie:app_session,header:Authorization,query:auth_token"
//
// Extractors run in order; the first non-empty token wins. Absence is not an
// error here, it resolves the machine to StateUnauthenticated.
type RouterTokenSource struct {
	ctx        router.Context
	extractors []TokenExtractor
}

// NewRouterTokenSource binds a request context to a lookup configuration.
func NewRouterTokenSource(c router.Context, tokenLookup, authScheme string) *RouterTokenSource {
	if tokenLookup == "" {
		tokenLookup = defaultTokenLookup
	}
	return &RouterTokenSource{
		ctx:        c,
		extractors: GetTokenExtractors(tokenLookup, authScheme),
	}
}

// CurrentToken satisfies the TokenSource interface.
func (s *RouterTokenSource) CurrentToken(context.Context) (string, error) {
	for _, extractor := range s.extractors {
		if token, err := extractor(s.ctx); err == nil && token != "" {
			return token, nil
		}
	}
	return "", nil
}

// GetTokenExtractors parses a lookup string into its extractor chain.
func GetTokenExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = authSchemes[0]
	}

	// cookie:app_session,header:Authorization,query:auth_token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

// tokenFromHeader returns an extractor that strips the auth scheme prefix.
func tokenFromHeader(header string, authScheme string) TokenExtractor {
	return func(c router.Context) (string, error) {
		a := c.Header(header)
		scheme := strings.TrimSpace(authScheme)
		l := len(scheme)
		if l == 0 {
			return "", ErrSessionAbsent
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], scheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrSessionAbsent
	}
}

func tokenFromQuery(param string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrSessionAbsent
		}
		return token, nil
	}
}

func tokenFromCookie(name string) TokenExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrSessionAbsent
		}
		return token, nil
	}
}
