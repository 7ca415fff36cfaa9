package cron

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"nourish_backend/internal/repository"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/email"
	"nourish_backend/pkg/subscription"
)

// DefaultExpirySpec runs the warning sweep every morning.
const DefaultExpirySpec = "0 9 * * *"

var warningDays = []int{7, 3}

type ExpiryMailer interface {
	SendSubscriptionExpiryWarning(ctx context.Context, to string, data email.SubscriptionExpiryWarningData) error
}

// ExpiryWarnings emails users whose cancelled subscription is about to run
// out. It only reads subscription state; expiry itself arrives from the
// billing providers.
type ExpiryWarnings struct {
	subs   *repository.SubscriptionRepository
	users  *repository.UserRepository
	mailer ExpiryMailer
	log    zerolog.Logger
	now    func() time.Time
}

func NewExpiryWarnings(subs *repository.SubscriptionRepository, users *repository.UserRepository, mailer ExpiryMailer, log zerolog.Logger) *ExpiryWarnings {
	return &ExpiryWarnings{
		subs:   subs,
		users:  users,
		mailer: mailer,
		log:    log.With().Str("component", "expiry_cron").Logger(),
		now:    time.Now,
	}
}

// Run sends the warnings due today and returns how many were sent.
func (w *ExpiryWarnings) Run(ctx context.Context) int {
	today := w.now().UTC().Truncate(24 * time.Hour)
	sent := 0

	for _, days := range warningDays {
		from := today.AddDate(0, 0, days)
		recs, err := w.subs.ListEndingBetween(ctx, subscription.StatusCancelled, from, from.Add(24*time.Hour))
		if err != nil {
			w.log.Error().Err(err).Int("days", days).Msg("could not list expiring subscriptions")
			continue
		}
		w.log.Info().Int("count", len(recs)).Int("days", days).Msg("found expiring subscriptions")

		for _, rec := range recs {
			user, err := w.users.FindByID(ctx, rec.UserID)
			if errors.Is(err, apperr.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				w.log.Error().Err(err).Str("user_id", rec.UserID).Msg("could not load user")
				continue
			}

			err = w.mailer.SendSubscriptionExpiryWarning(ctx, user.Email, email.SubscriptionExpiryWarningData{
				Name:       user.DisplayName,
				PlanName:   string(rec.Tier),
				DaysLeft:   days,
				ExpiryDate: *rec.PeriodEnd,
			})
			if err != nil {
				w.log.Error().Err(err).Str("user_id", rec.UserID).Msg("could not send expiry warning")
				continue
			}
			sent++
		}
	}
	return sent
}

// Start schedules the sweep on spec and starts the scheduler. The caller
// stops it on shutdown.
func Start(spec string, job *ExpiryWarnings, log zerolog.Logger) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultExpirySpec
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		sent := job.Run(context.Background())
		log.Info().Int("sent", sent).Msg("expiry warning sweep finished")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
