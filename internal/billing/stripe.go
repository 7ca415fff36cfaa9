package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"nourish_backend/pkg/subscription"
)

// StripeTranslator verifies Stripe webhook deliveries and maps them onto
// billing events. Prices resolve to tiers through an exact catalog.
type StripeTranslator struct {
	secret string
	prices *subscription.ProductCatalog
}

func NewStripeTranslator(webhookSecret string, prices *subscription.ProductCatalog) *StripeTranslator {
	return &StripeTranslator{secret: webhookSecret, prices: prices}
}

// Parse verifies the Stripe-Signature header and translates the event.
func (t *StripeTranslator) Parse(payload []byte, signature string) (Event, error) {
	if t.secret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured: %w", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEvent(payload, signature, t.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return t.Translate(event, payload)
}

// Translate maps an already verified event. Unhandled event types become Ignored.
func (t *StripeTranslator) Translate(event stripe.Event, payload []byte) (Event, error) {
	env := Envelope{
		Provider:   ProviderStripe,
		Source:     subscription.SourceWeb,
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    payload,
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data: %w", event.ID, ErrInvalidPayload)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("checkout session: %w", ErrInvalidPayload)
		}
		if sess.Customer != nil {
			env.CustomerRef = sess.Customer.ID
		}
		env.UserID = sess.ClientReferenceID
		if env.UserID == "" {
			env.UserID = sess.Metadata["user_id"]
		}
		if env.CustomerRef == "" {
			return Ignored{Envelope: env, Reason: "checkout session without customer"}, nil
		}
		return Link{Envelope: env}, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("subscription: %w", ErrInvalidPayload)
		}
		if sub.Customer != nil {
			env.CustomerRef = sub.Customer.ID
		}
		env.UserID = sub.Metadata["user_id"]

		if event.Type == "customer.subscription.deleted" {
			return Expiration{Envelope: env}, nil
		}
		_, renewed := event.Data.PreviousAttributes["current_period_end"]
		return t.subscriptionEvent(env, &sub, event.Type == "customer.subscription.updated" && renewed), nil

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("invoice: %w", ErrInvalidPayload)
		}
		if inv.Customer != nil {
			env.CustomerRef = inv.Customer.ID
		}
		if inv.Subscription == nil {
			return Ignored{Envelope: env, Reason: "invoice without subscription"}, nil
		}
		return BillingIssue{Envelope: env}, nil
	}

	return Ignored{Envelope: env, Reason: "unhandled event type"}, nil
}

func (t *StripeTranslator) subscriptionEvent(env Envelope, sub *stripe.Subscription, renewal bool) Event {
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return Expiration{Envelope: env}
	case stripe.SubscriptionStatusPastDue:
		return BillingIssue{Envelope: env}
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
	default:
		return Ignored{Envelope: env, Reason: "subscription status " + string(sub.Status)}
	}

	if sub.CancelAtPeriodEnd {
		return Cancellation{Envelope: env, PeriodEnd: unixTime(sub.CurrentPeriodEnd)}
	}

	priceID := subscriptionPrice(sub)
	tier, ok := t.prices.TierFor(priceID)
	if !ok {
		return Ignored{Envelope: env, Reason: "unknown price " + priceID}
	}
	return Purchase{
		Envelope:        env,
		Tier:            tier,
		Trial:           sub.Status == stripe.SubscriptionStatusTrialing,
		Renewal:         renewal,
		ProductID:       priceID,
		SubscriptionRef: sub.ID,
		PeriodStart:     unixTime(sub.CurrentPeriodStart),
		PeriodEnd:       unixTime(sub.CurrentPeriodEnd),
	}
}

func subscriptionPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}
