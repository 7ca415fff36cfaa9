package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"nourish_backend/internal/entitlement"
	"nourish_backend/internal/middleware"
	"nourish_backend/internal/model"
	"nourish_backend/internal/repository"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

// WebBilling is the hosted web checkout provider.
type WebBilling interface {
	EnsureCustomer(ctx context.Context, userID, email, existing string) (string, error)
	CheckoutURL(ctx context.Context, userID, customerRef string, tier subscription.Tier) (string, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error
}

type FeatureInput struct {
	Feature string `json:"feature"`
}

type UsageInput struct {
	Type string `json:"type"`
}

type CheckoutInput struct {
	Tier string `json:"tier"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type SubscriptionController struct {
	ent     *entitlement.Service
	subs    *repository.SubscriptionRepository
	users   *repository.UserRepository
	events  *repository.BillingEventRepository
	billing WebBilling
	log     zerolog.Logger
}

func NewSubscriptionController(
	ent *entitlement.Service,
	subs *repository.SubscriptionRepository,
	users *repository.UserRepository,
	events *repository.BillingEventRepository,
	billing WebBilling,
	log zerolog.Logger,
) *SubscriptionController {
	return &SubscriptionController{ent: ent, subs: subs, users: users, events: events, billing: billing, log: log}
}

type TierView struct {
	Tier subscription.Tier `json:"tier"`
	subscription.TierDefinition
}

// ListTiers publishes the tier catalog in upgrade order.
func (s *SubscriptionController) ListTiers(c *fiber.Ctx) error {
	tiers := subscription.Tiers()
	out := make([]TierView, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, TierView{Tier: tier, TierDefinition: subscription.LimitsFor(tier)})
	}
	return c.JSON(fiber.Map{
		"tiers":     out,
		"unlimited": subscription.Unlimited,
	})
}

type HistoryEntry struct {
	Provider   string               `json:"provider"`
	EventType  string               `json:"event_type"`
	Kind       string               `json:"kind"`
	Outcome    model.BillingOutcome `json:"outcome"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// GetHistory lists the billing events applied to the caller's subscription,
// newest first.
func (s *SubscriptionController) GetHistory(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		return invalidInput("limit must be between 1 and %d", maxHistoryLimit)
	}

	evs, err := s.events.ListForUser(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}
	out := make([]HistoryEntry, 0, len(evs))
	for _, ev := range evs {
		out = append(out, HistoryEntry{
			Provider:   ev.Provider,
			EventType:  ev.EventType,
			Kind:       ev.Kind,
			Outcome:    ev.Outcome,
			OccurredAt: ev.OccurredAt,
		})
	}
	return c.JSON(fiber.Map{
		"events": out,
	})
}

// GetStatus returns the advisory overview for display.
func (s *SubscriptionController) GetStatus(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	overview, err := s.ent.Status(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(overview)
}

// CheckFeature evaluates a feature without consuming quota.
func (s *SubscriptionController) CheckFeature(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	input := new(FeatureInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}
	if strings.TrimSpace(input.Feature) == "" {
		return invalidInput("feature is required")
	}

	res, err := s.ent.Check(c.UserContext(), userID, subscription.Feature(strings.TrimSpace(input.Feature)))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// IncrementUsage records one unit after an allowed check.
func (s *SubscriptionController) IncrementUsage(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	input := new(UsageInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}
	usage, ok := subscription.ParseUsageType(input.Type)
	if !ok {
		return invalidInput("type must be recipe or audio")
	}

	count, err := s.ent.Increment(c.UserContext(), userID, usage)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"type":  usage,
		"count": count,
	})
}

// Consume checks and records a metered feature in one step. A denial is 403.
func (s *SubscriptionController) Consume(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	input := new(FeatureInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}

	res, err := s.ent.Consume(c.UserContext(), userID, subscription.Feature(strings.TrimSpace(input.Feature)))
	if err != nil {
		return err
	}
	if !res.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(res)
	}
	return c.JSON(res)
}

// Checkout starts a web subscription. The tier only changes once the
// provider's webhook arrives.
func (s *SubscriptionController) Checkout(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}
	tier, ok := subscription.ParseTier(input.Tier)
	if !ok || !tier.Paid() {
		return invalidInput("tier must be BASIC or PREMIUM")
	}

	ctx := c.UserContext()
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.subs.EnsureExists(ctx, userID, time.Now()); err != nil {
		return err
	}
	rec, err := s.subs.Find(ctx, userID)
	if err != nil {
		return err
	}

	var existing string
	if rec.ExternalCustomerRef != nil {
		existing = *rec.ExternalCustomerRef
	}
	customerRef, err := s.billing.EnsureCustomer(ctx, userID, user.Email, existing)
	if err != nil {
		return err
	}
	if existing == "" {
		if err := s.linkCustomer(ctx, userID, customerRef); err != nil {
			return err
		}
	}

	url, err := s.billing.CheckoutURL(ctx, userID, customerRef, tier)
	if err != nil {
		return err
	}

	s.log.Info().Str("user_id", userID).Str("tier", string(tier)).Msg("checkout session created")
	return c.JSON(fiber.Map{
		"checkout_url": url,
	})
}

func (s *SubscriptionController) linkCustomer(ctx context.Context, userID, customerRef string) error {
	_, err := s.subs.Mutate(ctx, userID, func(rec *model.SubscriptionRecord) (bool, error) {
		if rec.ExternalCustomerRef != nil {
			return false, nil
		}
		ref := customerRef
		rec.ExternalCustomerRef = &ref
		return true, nil
	})
	return err
}

// CancelSubscription asks the web provider to stop renewing. Local state
// follows through the cancellation webhook.
func (s *SubscriptionController) CancelSubscription(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	rec, err := s.subs.Find(c.UserContext(), userID)
	if err != nil {
		return err
	}
	if rec.WebSubscriptionRef == nil || *rec.WebSubscriptionRef == "" {
		return fmt.Errorf("no web subscription for user %s: %w", userID, apperr.ErrRecordNotFound)
	}
	if rec.BillingSource != subscription.SourceWeb {
		return invalidInput("subscription is managed by the %s store", rec.BillingSource)
	}

	if err := s.billing.CancelAtPeriodEnd(c.UserContext(), *rec.WebSubscriptionRef); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Cancellation requested, access continues until the provider confirms",
	})
}
