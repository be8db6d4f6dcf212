package authstate

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Config holds guard and token-lookup options
type Config interface {
	GetTokenLookup() string
	GetAuthScheme() string
	GetLoginPath() string
	GetSignupPath() string
	GetOnboardingPath() string
	GetEscapePath() string
	GetDashboardTimeout() time.Duration
	GetCapabilityTimeout() time.Duration
}

// GuardConfig is the concrete Config used by the guards.
type GuardConfig struct {
	TokenLookup       string        `json:"token_lookup"`
	AuthScheme        string        `json:"auth_scheme"`
	LoginPath         string        `json:"login_path"`
	SignupPath        string        `json:"signup_path"`
	OnboardingPath    string        `json:"onboarding_path"`
	EscapePath        string        `json:"escape_path"`
	DashboardTimeout  time.Duration `json:"dashboard_timeout"`
	CapabilityTimeout time.Duration `json:"capability_timeout"`
}

// DefaultGuardConfig returns the configuration the guards ship with. The
// dashboard waits at most 10s for the machine to settle; capability checks
// fail closed after 2s.
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		TokenLookup:       defaultTokenLookup,
		AuthScheme:        "Bearer",
		LoginPath:         "/login",
		SignupPath:        "/signup",
		OnboardingPath:    "/onboarding",
		EscapePath:        "/dashboard",
		DashboardTimeout:  10 * time.Second,
		CapabilityTimeout: 2 * time.Second,
	}
}

// Validate checks the configuration is complete enough to guard anything.
func (c GuardConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.LoginPath, validation.Required),
		validation.Field(&c.SignupPath, validation.Required),
		validation.Field(&c.OnboardingPath, validation.Required),
		validation.Field(&c.DashboardTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.CapabilityTimeout, validation.Required, validation.Min(100*time.Millisecond)),
	)
}

func (c *GuardConfig) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return defaultTokenLookup
	}
	return c.TokenLookup
}

func (c *GuardConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c *GuardConfig) GetLoginPath() string {
	return c.LoginPath
}

func (c *GuardConfig) GetSignupPath() string {
	return c.SignupPath
}

func (c *GuardConfig) GetOnboardingPath() string {
	return c.OnboardingPath
}

func (c *GuardConfig) GetEscapePath() string {
	if c.EscapePath == "" {
		return "/dashboard"
	}
	return c.EscapePath
}

func (c *GuardConfig) GetDashboardTimeout() time.Duration {
	if c.DashboardTimeout <= 0 {
		return 10 * time.Second
	}
	return c.DashboardTimeout
}

func (c *GuardConfig) GetCapabilityTimeout() time.Duration {
	if c.CapabilityTimeout <= 0 {
		return 2 * time.Second
	}
	return c.CapabilityTimeout
}
