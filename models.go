package authstate

import (
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// UserRecord is the application-level record backing a verified principal.
// Records are keyed by the external principal identifier; the phone number is
// the tenant's messaging line, stored in E.164.
type UserRecord struct {
	bun.BaseModel         `bun:"table:user_records,alias:rec"`
	ID                    uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	PrincipalID           string         `bun:"principal_id,notnull,unique" json:"principal_id,omitempty"`
	BusinessName          string         `bun:"business_name" json:"business_name,omitempty"`
	DisplayName           string         `bun:"display_name" json:"display_name,omitempty"`
	Email                 string         `bun:"email" json:"email,omitempty"`
	Phone                 string         `bun:"phone_number" json:"phone_number,omitempty"`
	OnboardingCompleted   bool           `bun:"onboarding_completed" json:"onboarding_completed"`
	HasActiveSubscription bool           `bun:"has_active_subscription" json:"has_active_subscription"`
	Metadata              map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt             *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt             *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt             *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Principal projects the record into the read-only identity guards expose.
func (r *UserRecord) Principal() *Principal {
	if r == nil {
		return nil
	}
	return &Principal{
		ID:    r.PrincipalID,
		Name:  r.DisplayName,
		Email: r.Email,
	}
}

// AddMetadata will append information to a metadata attribute
func (r *UserRecord) AddMetadata(key string, val any) *UserRecord {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = val
	return r
}

// NormalizePhone validates a raw phone number and returns it in E.164.
// Region is the ISO country code used for numbers without a prefix.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "could not parse phone number").
			WithMetadata(map[string]any{"phone": raw})
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("phone number is not valid", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"phone": raw})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// DeriveRecordID derives a stable UUID from the external principal
// identifier, so re-provisioning the same principal is idempotent.
func DeriveRecordID(principalID string) (uuid.UUID, error) {
	return hashid.NewUUID(principalID)
}

func prepareRecordDefaults(record *UserRecord) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil && record.PrincipalID != "" {
		if id, err := DeriveRecordID(record.PrincipalID); err == nil {
			record.ID = id
		}
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
