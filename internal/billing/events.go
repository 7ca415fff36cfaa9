// Package billing turns billing-provider notifications into typed events and
// applies them to subscription records.
package billing

import (
	"errors"
	"time"

	"nourish_backend/pkg/subscription"
)

type Provider string

const (
	ProviderStripe     Provider = "stripe"
	ProviderRevenueCat Provider = "revenuecat"
)

type Kind string

const (
	KindPurchase     Kind = "purchase"
	KindCancellation Kind = "cancellation"
	KindExpiration   Kind = "expiration"
	KindBillingIssue Kind = "billing_issue"
	KindLink         Kind = "link"
	KindIgnored      Kind = "ignored"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Envelope is the provider-neutral header every event carries.
type Envelope struct {
	Provider   Provider
	Source     subscription.Source
	EventID    string
	EventType  string
	OccurredAt time.Time

	// CustomerRef identifies the web billing customer, SubscriberRef the
	// mobile store subscriber. UserID is the identity hint used for first-time
	// linkage.
	CustomerRef   string
	SubscriberRef string
	UserID        string

	Payload []byte
}

func (e Envelope) Meta() Envelope { return e }

func (Envelope) sealed() {}

// ProviderRef returns the reference used to locate the record for this provider.
func (e Envelope) ProviderRef() string {
	if e.Provider == ProviderStripe {
		return e.CustomerRef
	}
	return e.SubscriberRef
}

// Event is one of Purchase, Cancellation, Expiration, BillingIssue, Link or Ignored.
type Event interface {
	Meta() Envelope
	Kind() Kind
	sealed()
}

// Purchase covers initial purchases and renewals.
type Purchase struct {
	Envelope
	Tier            subscription.Tier
	Trial           bool
	Renewal         bool
	ProductID       string
	SubscriptionRef string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

func (Purchase) Kind() Kind { return KindPurchase }

// Cancellation stops renewal; access follows status rules until expiration.
type Cancellation struct {
	Envelope
	PeriodEnd *time.Time
}

func (Cancellation) Kind() Kind { return KindCancellation }

type Expiration struct {
	Envelope
}

func (Expiration) Kind() Kind { return KindExpiration }

type BillingIssue struct {
	Envelope
}

func (BillingIssue) Kind() Kind { return KindBillingIssue }

// Link binds a provider reference to a user without changing entitlements.
type Link struct {
	Envelope
}

func (Link) Kind() Kind { return KindLink }

// Ignored is a well-formed notification the reconciler has no transition for.
type Ignored struct {
	Envelope
	Reason string
}

func (Ignored) Kind() Kind { return KindIgnored }

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func millisTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
