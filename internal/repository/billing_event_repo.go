package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nourish_backend/internal/model"
)

type BillingEventRepository struct {
	db *gorm.DB
}

func NewBillingEventRepository(db *gorm.DB) *BillingEventRepository {
	return &BillingEventRepository{db: db}
}

// Seen reports whether provider already delivered eventID.
func (r *BillingEventRepository) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.BillingEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup billing event %s/%s: %w", provider, eventID, err)
	}
	return count > 0, nil
}

// Record stores ev unless the same provider event is already recorded.
func (r *BillingEventRepository) Record(ctx context.Context, ev *model.BillingEvent) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(ev).Error
	if err != nil {
		return fmt.Errorf("record billing event %s/%s: %w", ev.Provider, ev.EventID, err)
	}
	return nil
}

// Overwrite stores ev, replacing the outcome of an earlier delivery of the
// same provider event.
func (r *BillingEventRepository) Overwrite(ctx context.Context, ev *model.BillingEvent) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "user_id", "outcome"}),
		}).
		Create(ev).Error
	if err != nil {
		return fmt.Errorf("overwrite billing event %s/%s: %w", ev.Provider, ev.EventID, err)
	}
	return nil
}

// ListForUser returns the most recent events matched to userID.
func (r *BillingEventRepository) ListForUser(ctx context.Context, userID string, limit int) ([]model.BillingEvent, error) {
	var evs []model.BillingEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&evs).Error
	if err != nil {
		return nil, fmt.Errorf("list billing events for %s: %w", userID, err)
	}
	return evs, nil
}
