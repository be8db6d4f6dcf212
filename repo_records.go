package authstate

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var completeOnboardingSQL = `UPDATE "user_records" AS "rec"
SET
	"onboarding_completed" = TRUE,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"rec"."deleted_at" IS NULL
AND (
	"rec"."id" = ?
) RETURNING *;`

// Records is the persistence surface for user records. It satisfies
// RecordStore, so a repository can back the machine directly.
type Records interface {
	repository.Repository[*UserRecord]

	GetByPrincipalID(ctx context.Context, principalID string) (*UserRecord, error)
	GetByPrincipalIDTx(ctx context.Context, tx bun.IDB, principalID string) (*UserRecord, error)
	GetByPhone(ctx context.Context, phone string) (*UserRecord, error)

	Provision(ctx context.Context, record *UserRecord) (*UserRecord, error)
	ProvisionTx(ctx context.Context, tx bun.IDB, record *UserRecord) (*UserRecord, error)

	CompleteOnboarding(ctx context.Context, id uuid.UUID) error
	CompleteOnboardingTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	SetSubscription(ctx context.Context, id uuid.UUID, active bool) (*UserRecord, error)
}

type records struct {
	repository.Repository[*UserRecord]
	db *bun.DB
}

var (
	_ Records     = (*records)(nil)
	_ RecordStore = (*records)(nil)
)

// NewRecordsRepository builds the bun-backed Records repository.
func NewRecordsRepository(db *bun.DB) Records {
	repo := repository.NewRepository[*UserRecord](db, repository.ModelHandlers[*UserRecord]{
		NewRecord: func() *UserRecord { return &UserRecord{} },
		GetID: func(r *UserRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *UserRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &records{
		Repository: repo,
		db:         db,
	}
}

func (a *records) GetByPrincipalID(ctx context.Context, principalID string) (*UserRecord, error) {
	return a.GetByPrincipalIDTx(ctx, a.db, principalID)
}

func (a *records) GetByPrincipalIDTx(ctx context.Context, tx bun.IDB, principalID string) (*UserRecord, error) {
	record := &UserRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.principal_id = ?", principalID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"principal_id": principalID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *records) GetByPhone(ctx context.Context, phone string) (*UserRecord, error) {
	record := &UserRecord{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.phone_number = ?", phone).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"phone": phone,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *records) Provision(ctx context.Context, record *UserRecord) (*UserRecord, error) {
	return a.ProvisionTx(ctx, a.db, record)
}

// ProvisionTx creates the record for a principal if it does not exist yet.
func (a *records) ProvisionTx(ctx context.Context, tx bun.IDB, record *UserRecord) (*UserRecord, error) {
	existing, err := a.GetByPrincipalIDTx(ctx, tx, record.PrincipalID)
	if err == nil {
		return existing, nil
	}

	if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	prepareRecordDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *records) CompleteOnboarding(ctx context.Context, id uuid.UUID) error {
	return a.CompleteOnboardingTx(ctx, a.db, id)
}

func (a *records) CompleteOnboardingTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := a.Repository.RawTx(ctx, tx, completeOnboardingSQL, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *records) SetSubscription(ctx context.Context, id uuid.UUID, active bool) (*UserRecord, error) {
	record := &UserRecord{
		ID:                    id,
		HasActiveSubscription: active,
	}
	return a.Repository.UpdateTx(ctx, a.db, record, repository.UpdateByID(id.String()))
}

// RecordOnboardingChecker runs the onboarding lookup against the records
// repository. HTTP-backed checkers exist for deployments where onboarding
// lives in a separate backend; they surface ErrOnboardingUnauthorized when
// the session expired mid-flight, which this local checker cannot.
type RecordOnboardingChecker struct {
	records RecordStore
}

// NewRecordOnboardingChecker wraps a record store.
func NewRecordOnboardingChecker(store RecordStore) *RecordOnboardingChecker {
	return &RecordOnboardingChecker{records: store}
}

// Check satisfies the OnboardingChecker interface.
func (c *RecordOnboardingChecker) Check(ctx context.Context, principalID string) (OnboardingStatus, error) {
	record, err := c.records.GetByPrincipalID(ctx, principalID)
	if err != nil {
		return OnboardingStatus{}, err
	}

	return OnboardingStatus{
		OnboardingCompleted:   record.OnboardingCompleted,
		HasActiveSubscription: record.HasActiveSubscription,
	}, nil
}
