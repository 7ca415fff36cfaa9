package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"nourish_backend/internal/billing"
	"nourish_backend/pkg/apperr"
)

type EventApplier interface {
	Apply(ctx context.Context, ev billing.Event) (billing.Result, error)
}

// WebhookController receives billing provider notifications. Anything the
// reconciler can acknowledge is answered 200 so providers do not retry it.
type WebhookController struct {
	reconciler EventApplier
	stripe     *billing.StripeTranslator
	revenueCat *billing.RevenueCatTranslator
	log        zerolog.Logger
}

func NewWebhookController(reconciler EventApplier, stripe *billing.StripeTranslator, revenueCat *billing.RevenueCatTranslator, log zerolog.Logger) *WebhookController {
	return &WebhookController{
		reconciler: reconciler,
		stripe:     stripe,
		revenueCat: revenueCat,
		log:        log.With().Str("component", "webhooks").Logger(),
	}
}

func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	ev, err := w.stripe.Parse(payload, c.Get("Stripe-Signature"))
	return w.apply(c, billing.ProviderStripe, ev, err)
}

func (w *WebhookController) HandleRevenueCatWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	ev, err := w.revenueCat.Parse(payload, c.Get(fiber.HeaderAuthorization))
	return w.apply(c, billing.ProviderRevenueCat, ev, err)
}

func (w *WebhookController) apply(c *fiber.Ctx, provider billing.Provider, ev billing.Event, parseErr error) error {
	if parseErr != nil {
		w.log.Warn().Err(parseErr).Str("provider", string(provider)).Msg("rejected webhook")
		if errors.Is(parseErr, billing.ErrInvalidSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid webhook signature",
				"code":  apperr.CodeInvalidInput,
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
			"code":  apperr.CodeInvalidInput,
		})
	}

	res, err := w.reconciler.Apply(c.UserContext(), ev)
	if err != nil {
		// Store failures are the only case the provider should retry.
		return err
	}
	return c.JSON(fiber.Map{
		"received": true,
		"outcome":  res.Outcome,
	})
}
