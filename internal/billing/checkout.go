package billing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"nourish_backend/internal/metrics"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

// StripeCheckout starts and stops web subscriptions. It never writes local
// state; the resulting webhooks do.
type StripeCheckout struct {
	api        *client.API
	prices     *subscription.ProductCatalog
	successURL string
	cancelURL  string
}

func NewStripeCheckout(secretKey string, prices *subscription.ProductCatalog, successURL, cancelURL string, timeout time.Duration) *StripeCheckout {
	httpClient := &http.Client{Timeout: timeout}
	backendConfig := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(1),
		}
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
	}

	return &StripeCheckout{
		api:        client.New(secretKey, backends),
		prices:     prices,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func upstream(op string, start time.Time, err error) error {
	metrics.UpstreamLatency.WithLabelValues("stripe").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues("stripe", "error").Inc()
		return fmt.Errorf("stripe %s: %v: %w", op, err, apperr.ErrUpstream)
	}
	metrics.UpstreamCalls.WithLabelValues("stripe", "ok").Inc()
	return nil
}

// EnsureCustomer returns existing when set, otherwise creates a Stripe
// customer tagged with the user id.
func (s *StripeCheckout) EnsureCustomer(ctx context.Context, userID, email, existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	start := time.Now()
	cus, err := s.api.Customers.New(params)
	if err := upstream("create customer", start, err); err != nil {
		return "", err
	}
	return cus.ID, nil
}

// CheckoutURL opens a hosted checkout for tier.
func (s *StripeCheckout) CheckoutURL(ctx context.Context, userID, customerRef string, tier subscription.Tier) (string, error) {
	price, ok := s.prices.ProductFor(tier)
	if !ok {
		return "", fmt.Errorf("no web price for tier %s: %w", tier, apperr.ErrInvalidInput)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerRef),
		ClientReferenceID: stripe.String(userID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.Context = ctx

	start := time.Now()
	sess, err := s.api.CheckoutSessions.New(params)
	if err := upstream("create checkout session", start, err); err != nil {
		return "", err
	}
	return sess.URL, nil
}

// CancelAtPeriodEnd asks Stripe to stop renewing subscriptionRef.
func (s *StripeCheckout) CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	start := time.Now()
	_, err := s.api.Subscriptions.Update(subscriptionRef, params)
	return upstream("cancel subscription", start, err)
}
