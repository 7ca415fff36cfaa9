package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"nourish_backend/internal/entitlement"
	"nourish_backend/internal/middleware"
	"nourish_backend/pkg/subscription"
	"nourish_backend/pkg/utils/jwt"
)

type Routes struct {
	Auth          *AuthController
	Subscriptions *SubscriptionController
	Audio         *AudioController
	Webhooks      *WebhookController
	Entitlements  *entitlement.Service
	Tokens        *jwt.Manager
}

func NewApp(log zerolog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      "nourish",
		ErrorHandler: ErrorHandler(log),
	})
}

func SetupRoutes(app *fiber.App, r Routes) {
	api := app.Group("/api")

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", r.Auth.Register)
	auth.Post("/login", r.Auth.Login)

	// Billing provider webhooks
	webhooks := api.Group("/webhooks")
	webhooks.Post("/stripe", r.Webhooks.HandleStripeWebhook)
	webhooks.Post("/revenuecat", r.Webhooks.HandleRevenueCatWebhook)

	// Public tier catalog
	api.Get("/tiers", r.Subscriptions.ListTiers)

	// Subscription routes
	subs := api.Group("/subscription", middleware.AuthMiddleware(r.Tokens))
	subs.Get("/status", r.Subscriptions.GetStatus)
	subs.Get("/history", r.Subscriptions.GetHistory)
	subs.Post("/check-feature", r.Subscriptions.CheckFeature)
	subs.Post("/increment-usage", r.Subscriptions.IncrementUsage)
	subs.Post("/consume", r.Subscriptions.Consume)
	subs.Post("/checkout", r.Subscriptions.Checkout)
	subs.Post("/cancel", r.Subscriptions.CancelSubscription)

	// Audio meditations
	audio := api.Group("/audio", middleware.AuthMiddleware(r.Tokens))
	audio.Post("/speech", r.Audio.GenerateSpeech)
	audio.Get("/library", middleware.CheckSubscriptionFeature(r.Entitlements, subscription.AudioLibrary), r.Audio.ListLibrary)
}
