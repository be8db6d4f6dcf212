package authstate

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/blake2b"
)

// RevocationChecker answers whether a token digest has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, digest string) (bool, error)
}

// JWTVerifier is a SessionVerifier backed by local JWT validation, either
// against a shared signing key or a remote JWK set.
type JWTVerifier struct {
	keyFunc      jwt.Keyfunc
	validMethods []string
	revocations  RevocationChecker
	logger       Logger
}

// JWTVerifierOption customizes verifier construction.
type JWTVerifierOption func(*JWTVerifier)

// WithVerifierLogger overrides the default logger.
func WithVerifierLogger(logger Logger) JWTVerifierOption {
	return func(v *JWTVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithValidMethods restricts accepted signing algorithms.
func WithValidMethods(methods ...string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		if len(methods) > 0 {
			v.validMethods = methods
		}
	}
}

// WithRevocationChecker wires the revocation list consulted when
// Verify is called with checkRevoked set.
func WithRevocationChecker(checker RevocationChecker) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.revocations = checker
	}
}

// NewJWTVerifier validates tokens signed with a shared HMAC key.
func NewJWTVerifier(signingKey []byte, opts ...JWTVerifierOption) *JWTVerifier {
	v := &JWTVerifier{
		keyFunc: func(*jwt.Token) (any, error) {
			return signingKey, nil
		},
		validMethods: []string{jwt.SigningMethodHS256.Alg()},
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// NewJWKSVerifier validates tokens against a remote JWK set, refreshed in the
// background. Verification faults while the set is unreachable classify as
// verifier faults, not invalid tokens.
func NewJWKSVerifier(jwksURL string, opts ...JWTVerifierOption) (*JWTVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWK set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load JWK set").
			WithMetadata(map[string]any{"jwks_url": jwksURL})
	}

	v := &JWTVerifier{
		keyFunc:      jwks.Keyfunc,
		validMethods: []string{"RS256", "ES256"},
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify satisfies the SessionVerifier interface.
func (v *JWTVerifier) Verify(ctx context.Context, token string, checkRevoked bool) (Session, error) {
	if token == "" {
		return nil, ErrSessionAbsent
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc, jwt.WithValidMethods(v.validMethods))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrSessionInvalid
	}

	if checkRevoked && v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, TokenDigest(token))
		if err != nil {
			v.logger.Error("revocation lookup failed", "error", err)
			return nil, goerrors.Wrap(ErrVerifierFault, goerrors.CategoryInternal, "revocation lookup failed")
		}
		if revoked {
			return nil, ErrSessionRevoked
		}
	}

	return sessionFromClaims(claims)
}

// classifyJWTError maps parse failures onto the invalid-vs-fault split the
// machine routes on: token problems are invalid sessions, everything else is
// a verifier fault.
func classifyJWTError(err error) error {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return ErrSessionExpired
	case goerrors.Is(err, jwt.ErrTokenMalformed),
		goerrors.Is(err, jwt.ErrTokenSignatureInvalid),
		goerrors.Is(err, jwt.ErrTokenNotValidYet),
		goerrors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrSessionInvalid
	default:
		return goerrors.Wrap(ErrVerifierFault, goerrors.CategoryInternal, "token verification failed").
			WithMetadata(map[string]any{"cause": err.Error()})
	}
}

// TokenDigest returns the hex digest stored in revocation lists. Raw tokens
// are never persisted.
func TokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RevocationList is an in-memory revocation store. It implements both
// RevocationChecker and SessionRevoker, so it can back the machine's
// ClearSession and the verifier's revocation check in one piece.
type RevocationList struct {
	mu      sync.RWMutex
	digests map[string]struct{}
}

// NewRevocationList returns an empty list.
func NewRevocationList() *RevocationList {
	return &RevocationList{digests: map[string]struct{}{}}
}

// Revoke satisfies the SessionRevoker interface.
func (r *RevocationList) Revoke(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests[TokenDigest(token)] = struct{}{}
	return nil
}

// IsRevoked satisfies the RevocationChecker interface.
func (r *RevocationList) IsRevoked(_ context.Context, digest string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, revoked := r.digests[digest]
	return revoked, nil
}

// MultiVerifier tries verifiers in order until one succeeds. It treats
// invalid-session failures as "try next" and returns the last one if all
// verifiers reject the token; faults short-circuit.
type MultiVerifier struct {
	verifiers []SessionVerifier
}

// NewMultiVerifier filters nil verifiers and returns a composite verifier.
func NewMultiVerifier(verifiers ...SessionVerifier) *MultiVerifier {
	filtered := make([]SessionVerifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiVerifier{verifiers: filtered}
}

// Verify satisfies the SessionVerifier interface.
func (m *MultiVerifier) Verify(ctx context.Context, token string, checkRevoked bool) (Session, error) {
	var lastErr error
	for _, v := range m.verifiers {
		session, err := v.Verify(ctx, token, checkRevoked)
		if err == nil {
			return session, nil
		}
		if IsInvalidSession(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrSessionInvalid
}
