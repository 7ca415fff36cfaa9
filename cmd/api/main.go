package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v74"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nourish_backend/internal/billing"
	"nourish_backend/internal/controller"
	"nourish_backend/internal/entitlement"
	"nourish_backend/internal/repository"
	"nourish_backend/internal/speech"
	"nourish_backend/pkg/config"
	"nourish_backend/pkg/cron"
	"nourish_backend/pkg/database"
	"nourish_backend/pkg/email"
	"nourish_backend/pkg/logger"
	"nourish_backend/pkg/utils/cloudflare"
	"nourish_backend/pkg/utils/jwt"
)

var rootCmd = &cobra.Command{
	Use:          "nourish",
	Short:        "Nourish subscription and entitlement API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, db, err := bootstrap()
		if err != nil {
			return err
		}
		return database.Migrate(db, log, database.Models()...)
	},
}

var (
	replayProvider string
	replayFile     string
	replayForce    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay-event",
	Short: "Apply a stored billing webhook payload without signature checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayEvent(cmd.Context(), replayProvider, replayFile, replayForce)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayProvider, "provider", "", "stripe or revenuecat")
	replayCmd.Flags().StringVar(&replayFile, "file", "", "path to the raw webhook body")
	replayCmd.Flags().BoolVar(&replayForce, "force", false, "re-apply an event id that is already recorded")
	_ = replayCmd.MarkFlagRequired("provider")
	_ = replayCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(replayCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)

	db, err := database.Open(cfg.Database.URL, database.Options{
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, log)
	if err != nil {
		return nil, log, nil, err
	}
	return cfg, log, db, nil
}

// newReconciler wires the billing reconciler. mailer may be nil.
func newReconciler(db *gorm.DB, cfg *config.Config, mailer *email.EmailService, log zerolog.Logger) (*billing.Reconciler, *repository.SubscriptionRepository, *repository.UserRepository, *repository.BillingEventRepository) {
	subs := repository.NewSubscriptionRepository(db, cfg.Server.CASRetries)
	users := repository.NewUserRepository(db)
	events := repository.NewBillingEventRepository(db)

	var notifier billing.Notifier
	if mailer != nil {
		notifier = billing.NewEmailNotifier(users, mailer)
	}
	return billing.NewReconciler(subs, users, events, notifier, log), subs, users, events
}

func runServer(ctx context.Context) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	if err := database.Migrate(db, log, database.Models()...); err != nil {
		log.Warn().Err(err).Msg("migration warning")
	}

	mailer, err := email.NewEmailService(cfg.Email.ResendAPIKey, cfg.Email.From, cfg.Server.UpstreamTimeout, log)
	if err != nil {
		log.Warn().Err(err).Msg("email disabled")
	}

	reconciler, subs, users, events := newReconciler(db, cfg, mailer, log)
	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	ent := entitlement.NewService(subs, log)

	store, err := cloudflare.NewAudioStore(ctx, cloudflare.R2Config{
		AccountID: cfg.Storage.AccountID,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("audio storage: %w", err)
	}
	synth := speech.NewClient(cfg.Speech.APIKey, cfg.Speech.BaseURL, cfg.Speech.Model, cfg.Server.UpstreamTimeout, log)
	checkout := billing.NewStripeCheckout(cfg.Stripe.SecretKey, cfg.Stripe.Prices, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, cfg.Server.UpstreamTimeout)

	var welcome controller.WelcomeMailer
	if mailer != nil {
		welcome = mailer
	}

	app := controller.NewApp(log)
	app.Use(fiberlogger.New())
	app.Use(cors.New())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	controller.SetupRoutes(app, controller.Routes{
		Auth:          controller.NewAuthController(users, subs, tokens, welcome, log),
		Subscriptions: controller.NewSubscriptionController(ent, subs, users, events, checkout, log),
		Audio:         controller.NewAudioController(ent, synth, store, log),
		Webhooks: controller.NewWebhookController(reconciler,
			billing.NewStripeTranslator(cfg.Stripe.WebhookSecret, cfg.Stripe.Prices),
			billing.NewRevenueCatTranslator(cfg.Mobile.WebhookAuth, cfg.Mobile.Products), log),
		Entitlements: ent,
		Tokens:       tokens,
	})

	if mailer != nil {
		scheduler, err := cron.Start(cfg.Cron.ExpirySpec, cron.NewExpiryWarnings(subs, users, mailer, log), log)
		if err != nil {
			return fmt.Errorf("expiry cron: %w", err)
		}
		defer scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("server is running")
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	err = g.Wait()
	reconciler.Wait()
	return err
}

func replayEvent(ctx context.Context, provider, path string, force bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}

	var ev billing.Event
	switch billing.Provider(provider) {
	case billing.ProviderStripe:
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode stripe event: %w", err)
		}
		ev, err = billing.NewStripeTranslator(cfg.Stripe.WebhookSecret, cfg.Stripe.Prices).Translate(event, payload)
	case billing.ProviderRevenueCat:
		ev, err = billing.NewRevenueCatTranslator(cfg.Mobile.WebhookAuth, cfg.Mobile.Products).Translate(payload)
	default:
		return errors.New("provider must be stripe or revenuecat")
	}
	if err != nil {
		return err
	}

	reconciler, _, _, _ := newReconciler(db, cfg, nil, log)
	apply := reconciler.Apply
	if force {
		apply = reconciler.Replay
	}
	res, err := apply(ctx, ev)
	if err != nil {
		return err
	}
	log.Info().
		Str("event_id", ev.Meta().EventID).
		Str("outcome", string(res.Outcome)).
		Str("user_id", res.UserID).
		Bool("force", force).
		Msg("event replayed")
	return nil
}
