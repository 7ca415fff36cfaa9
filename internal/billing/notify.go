package billing

import (
	"context"
	"fmt"
	"time"

	"nourish_backend/internal/repository"
	"nourish_backend/pkg/email"
	"nourish_backend/pkg/subscription"
)

// Notification is handed to a Notifier after an applied purchase or cancellation.
type Notification struct {
	UserID    string
	Kind      Kind
	Tier      subscription.Tier
	PeriodEnd *time.Time
	Renewal   bool
}

type Notifier interface {
	SubscriptionChanged(ctx context.Context, n Notification) error
}

type Mailer interface {
	SendSubscriptionStartedEmail(ctx context.Context, to string, data email.SubscriptionEmailData) error
	SendSubscriptionCancelledEmail(ctx context.Context, to string, data email.SubscriptionCancelledData) error
}

// EmailNotifier emails the account owner about subscription changes.
type EmailNotifier struct {
	users  *repository.UserRepository
	mailer Mailer
}

func NewEmailNotifier(users *repository.UserRepository, mailer Mailer) *EmailNotifier {
	return &EmailNotifier{users: users, mailer: mailer}
}

func (n *EmailNotifier) SubscriptionChanged(ctx context.Context, note Notification) error {
	user, err := n.users.FindByID(ctx, note.UserID)
	if err != nil {
		return fmt.Errorf("notification recipient: %w", err)
	}

	switch note.Kind {
	case KindPurchase:
		limits := subscription.LimitsFor(note.Tier)
		return n.mailer.SendSubscriptionStartedEmail(ctx, user.Email, email.SubscriptionEmailData{
			Name:            user.DisplayName,
			PlanName:        string(note.Tier),
			RecipesPerMonth: limits.RecipesPerMonth,
			AudioPerMonth:   limits.AudioPerMonth,
			RenewsAt:        note.PeriodEnd,
			IsRenewal:       note.Renewal,
		})
	case KindCancellation:
		return n.mailer.SendSubscriptionCancelledEmail(ctx, user.Email, email.SubscriptionCancelledData{
			Name:      user.DisplayName,
			PlanName:  string(note.Tier),
			ExpiresAt: note.PeriodEnd,
		})
	}
	return nil
}
