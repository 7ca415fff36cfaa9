package model

import (
	"time"

	"gorm.io/gorm"

	"nourish_backend/pkg/subscription"
)

// SubscriptionRecord is the single per-user entitlement row. Tier and Status
// are written by the billing reconciler only; counters by the usage gateway
// and the period reset.
type SubscriptionRecord struct {
	gorm.Model
	UserID            string              `json:"user_id" gorm:"uniqueIndex;not null;size:64"`
	Tier              subscription.Tier   `json:"tier" gorm:"not null;size:16"`
	Status            subscription.Status `json:"status" gorm:"not null;size:16"`
	PeriodRecipeCount int                 `json:"period_recipe_count" gorm:"not null"`
	PeriodAudioCount  int                 `json:"period_audio_count" gorm:"not null"`
	PeriodAnchor      time.Time           `json:"period_anchor" gorm:"not null"`
	BillingSource     subscription.Source `json:"billing_source" gorm:"size:16"`

	// Provider identities, unique when set.
	ExternalCustomerRef   *string `json:"external_customer_ref" gorm:"uniqueIndex;size:255"`
	ExternalSubscriberRef *string `json:"external_subscriber_ref" gorm:"uniqueIndex;size:255"`
	WebSubscriptionRef    *string `json:"web_subscription_ref" gorm:"size:255"`

	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`

	// Effective provider time of the last applied write to each field group.
	TierEventAt   *time.Time `json:"tier_event_at"`
	StatusEventAt *time.Time `json:"status_event_at"`

	Version int64 `json:"-" gorm:"not null"`
}

// NewSubscriptionRecord is the lazily created default: FREE and active.
func NewSubscriptionRecord(userID string, now time.Time) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID:       userID,
		Tier:         subscription.FreeTier,
		Status:       subscription.StatusActive,
		PeriodAnchor: subscription.PeriodAnchor(now),
	}
}

func (r *SubscriptionRecord) Counters() subscription.Counters {
	return subscription.Counters{
		Recipes: r.PeriodRecipeCount,
		Audio:   r.PeriodAudioCount,
		Anchor:  r.PeriodAnchor,
	}
}

func (r *SubscriptionRecord) SetCounters(c subscription.Counters) {
	r.PeriodRecipeCount = c.Recipes
	r.PeriodAudioCount = c.Audio
	r.PeriodAnchor = c.Anchor
}

// Normalize applies the period reset for now and reports whether anything changed.
func (r *SubscriptionRecord) Normalize(now time.Time) bool {
	before := r.Counters()
	after := subscription.Normalize(before, now)
	if after.Recipes == before.Recipes && after.Audio == before.Audio && after.Anchor.Equal(before.Anchor) {
		return false
	}
	r.SetCounters(after)
	return true
}

func (r *SubscriptionRecord) Snapshot() subscription.Snapshot {
	return subscription.Snapshot{
		Tier:      r.Tier,
		Status:    r.Status,
		Counters:  r.Counters(),
		PeriodEnd: r.PeriodEnd,
	}
}

// Columns lists every mutable column with its current value, for
// compare-and-swap updates.
func (r *SubscriptionRecord) Columns() map[string]interface{} {
	return map[string]interface{}{
		"tier":                    r.Tier,
		"status":                  r.Status,
		"period_recipe_count":     r.PeriodRecipeCount,
		"period_audio_count":      r.PeriodAudioCount,
		"period_anchor":           r.PeriodAnchor,
		"billing_source":          r.BillingSource,
		"external_customer_ref":   r.ExternalCustomerRef,
		"external_subscriber_ref": r.ExternalSubscriberRef,
		"web_subscription_ref":    r.WebSubscriptionRef,
		"period_start":            r.PeriodStart,
		"period_end":              r.PeriodEnd,
		"tier_event_at":           r.TierEventAt,
		"status_event_at":         r.StatusEventAt,
	}
}
