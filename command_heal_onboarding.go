package authstate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// HealOnboardingMessage requests the self-healing correction for the
// inconsistent "active subscription but onboarding flag false" combination.
type HealOnboardingMessage struct {
	PrincipalID string `json:"principal_id"`
}

func (e HealOnboardingMessage) Type() string { return "record.onboarding.heal" }

// OnboardingCompleter is the slice of Records the heal handler needs.
type OnboardingCompleter interface {
	GetByPrincipalID(ctx context.Context, principalID string) (*UserRecord, error)
	CompleteOnboarding(ctx context.Context, id uuid.UUID) error
}

// HealOnboardingHandler marks onboarding complete for records that already
// carry an active subscription. The guard dispatches it fire-and-forget;
// a failed correction is retried naturally on the next guard pass.
type HealOnboardingHandler struct {
	records OnboardingCompleter
	logger  Logger
}

// NewHealOnboardingHandler builds the handler.
func NewHealOnboardingHandler(records OnboardingCompleter) *HealOnboardingHandler {
	return &HealOnboardingHandler{
		records: records,
		logger:  defLogger{},
	}
}

// WithLogger overrides the default logger.
func (h *HealOnboardingHandler) WithLogger(logger Logger) *HealOnboardingHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *HealOnboardingHandler) Execute(ctx context.Context, event HealOnboardingMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during onboarding heal",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *HealOnboardingHandler) execute(ctx context.Context, event HealOnboardingMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	record, err := h.records.GetByPrincipalID(ctx, event.PrincipalID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load record for onboarding heal")
	}

	if record.OnboardingCompleted {
		return nil
	}

	if !record.HasActiveSubscription {
		return goerrors.New("record has no active subscription, refusing to heal onboarding", goerrors.CategoryConflict).
			WithMetadata(map[string]any{"principal_id": event.PrincipalID})
	}

	if err := h.records.CompleteOnboarding(ctx, record.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to complete onboarding")
	}

	return nil
}

// FireAndForgetHealer dispatches the heal handler on a detached context so
// guards never block rendering on the correction's outcome.
func FireAndForgetHealer(h *HealOnboardingHandler, logger Logger) func(principalID string) {
	if logger == nil {
		logger = defLogger{}
	}
	return func(principalID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
			defer cancel()
			if err := h.Execute(ctx, HealOnboardingMessage{PrincipalID: principalID}); err != nil {
				logger.Warn("onboarding heal failed for principal %s: %v", principalID, err)
			}
		}()
	}
}
