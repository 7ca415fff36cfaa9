package model

import (
	"time"

	"gorm.io/datatypes"
)

type BillingOutcome string

const (
	OutcomeApplied   BillingOutcome = "applied"
	OutcomeStale     BillingOutcome = "stale"
	OutcomeUnmatched BillingOutcome = "unmatched"
	OutcomeIgnored   BillingOutcome = "ignored"
	OutcomeDuplicate BillingOutcome = "duplicate"
)

// BillingEvent is the audit trail of provider notifications.
type BillingEvent struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Provider   string         `json:"provider" gorm:"size:32;not null;uniqueIndex:idx_billing_events_provider_event"`
	EventID    string         `json:"event_id" gorm:"size:255;not null;uniqueIndex:idx_billing_events_provider_event"`
	EventType  string         `json:"event_type" gorm:"size:64"`
	Kind       string         `json:"kind" gorm:"size:32"`
	UserID     *string        `json:"user_id" gorm:"index;size:64"`
	Outcome    BillingOutcome `json:"outcome" gorm:"size:16;not null"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    datatypes.JSON `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}
