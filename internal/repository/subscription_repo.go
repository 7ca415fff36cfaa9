package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nourish_backend/internal/model"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

const defaultMaxAttempts = 25

// MutateFunc edits rec in place and reports whether it must be written back.
// It may run several times when concurrent writers collide, so it must not
// keep state from a previous call.
type MutateFunc func(rec *model.SubscriptionRecord) (bool, error)

type SubscriptionRepository struct {
	db          *gorm.DB
	maxAttempts int
	backoff     casBackoff
}

func NewSubscriptionRepository(db *gorm.DB, maxAttempts int) *SubscriptionRepository {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &SubscriptionRepository{db: db, maxAttempts: maxAttempts, backoff: defaultCASBackoff}
}

func (r *SubscriptionRepository) Find(ctx context.Context, userID string) (*model.SubscriptionRecord, error) {
	return r.findBy(ctx, "user_id = ?", userID)
}

func (r *SubscriptionRepository) FindByCustomerRef(ctx context.Context, ref string) (*model.SubscriptionRecord, error) {
	return r.findBy(ctx, "external_customer_ref = ?", ref)
}

func (r *SubscriptionRepository) FindBySubscriberRef(ctx context.Context, ref string) (*model.SubscriptionRecord, error) {
	return r.findBy(ctx, "external_subscriber_ref = ?", ref)
}

func (r *SubscriptionRepository) findBy(ctx context.Context, query string, arg string) (*model.SubscriptionRecord, error) {
	var rec model.SubscriptionRecord
	err := r.db.WithContext(ctx).Where(query, arg).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("subscription %s: %w", arg, apperr.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", arg, err)
	}
	return &rec, nil
}

// EnsureExists creates the default FREE/active record unless one exists.
func (r *SubscriptionRepository) EnsureExists(ctx context.Context, userID string, now time.Time) error {
	rec := model.NewSubscriptionRecord(userID, now)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("create subscription %s: %w", userID, err)
	}
	return nil
}

// Mutate runs a compare-and-swap loop on the user's record: load, apply fn,
// write back only if the version is unchanged, retry after a jittered
// backoff otherwise.
func (r *SubscriptionRepository) Mutate(ctx context.Context, userID string, fn MutateFunc) (*model.SubscriptionRecord, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.backoff.wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.Find(ctx, userID)
		if err != nil {
			return nil, err
		}

		write, err := fn(rec)
		if err != nil {
			return rec, err
		}
		if !write {
			return rec, nil
		}

		cols := rec.Columns()
		cols["version"] = rec.Version + 1
		cols["updated_at"] = time.Now()

		res := r.db.WithContext(ctx).
			Model(&model.SubscriptionRecord{}).
			Where("user_id = ? AND version = ?", userID, rec.Version).
			Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("update subscription %s: %w", userID, res.Error)
		}
		if res.RowsAffected == 1 {
			rec.Version++
			return rec, nil
		}
	}
	return nil, fmt.Errorf("subscription %s after %d attempts: %w", userID, r.maxAttempts, apperr.ErrConflict)
}

// ListEndingBetween returns records in status whose provider period ends in [from, to).
func (r *SubscriptionRepository) ListEndingBetween(ctx context.Context, status subscription.Status, from, to time.Time) ([]model.SubscriptionRecord, error) {
	var recs []model.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND period_end >= ? AND period_end < ?", status, from, to).
		Order("period_end").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions ending between %s and %s: %w", from, to, err)
	}
	return recs, nil
}
