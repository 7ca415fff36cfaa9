package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"nourish_backend/internal/model"
	"nourish_backend/internal/repository"
	"nourish_backend/internal/testutil"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

var t0 = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) SubscriptionChanged(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

type reconcilerFixture struct {
	db       *gorm.DB
	subs     *repository.SubscriptionRepository
	users    *repository.UserRepository
	notifier *recordingNotifier
	rec      *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &reconcilerFixture{
		db:       db,
		subs:     repository.NewSubscriptionRepository(db, 0),
		users:    repository.NewUserRepository(db),
		notifier: &recordingNotifier{},
	}
	f.rec = NewReconciler(f.subs, f.users, repository.NewBillingEventRepository(db), f.notifier, zerolog.Nop())
	t.Cleanup(func() { f.rec.Wait() })
	return f
}

// sent drains background notifications and returns what was delivered.
func (f *reconcilerFixture) sent() []Notification {
	f.rec.Wait()
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	return append([]Notification(nil), f.notifier.sent...)
}

func (f *reconcilerFixture) record(t *testing.T, userID string) *model.SubscriptionRecord {
	t.Helper()
	rec, err := f.subs.Find(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func mobilePurchase(id, userID string, tier subscription.Tier, at time.Time) Purchase {
	end := at.AddDate(0, 1, 0)
	return Purchase{
		Envelope: Envelope{
			Provider:      ProviderRevenueCat,
			Source:        subscription.SourceIOS,
			EventID:       id,
			EventType:     "INITIAL_PURCHASE",
			OccurredAt:    at,
			SubscriberRef: "rc-" + userID,
			UserID:        userID,
		},
		Tier:      tier,
		PeriodEnd: &end,
	}
}

func webEnvelope(id, userID string, at time.Time) Envelope {
	return Envelope{
		Provider:    ProviderStripe,
		Source:      subscription.SourceWeb,
		EventID:     id,
		EventType:   "customer.subscription.updated",
		OccurredAt:  at,
		CustomerRef: "cus-" + userID,
		UserID:      userID,
	}
}

func TestPurchaseMatchedByUserIDUnlocksFeatures(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	res, err := f.rec.Apply(ctx, mobilePurchase("evt-1", "u1", subscription.PremiumTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)
	assert.Equal(t, "u1", res.UserID)

	rec := f.record(t, "u1")
	assert.Equal(t, subscription.PremiumTier, rec.Tier)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	assert.Equal(t, subscription.SourceIOS, rec.BillingSource)
	require.NotNil(t, rec.ExternalSubscriberRef)
	assert.Equal(t, "rc-u1", *rec.ExternalSubscriberRef)

	check := subscription.Check(rec.Snapshot(), subscription.Community, t0.Add(time.Hour))
	assert.True(t, check.Allowed)

	sent := f.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, subscription.PremiumTier, sent[0].Tier)

	// Later events find the record through the linked subscriber ref alone.
	ev := mobilePurchase("evt-2", "u1", subscription.BasicTier, t0.Add(time.Hour))
	ev.UserID = ""
	res, err = f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, subscription.BasicTier, f.record(t, "u1").Tier)
}

func TestReplayedEventIsAcknowledgedWithoutChange(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	ev := mobilePurchase("evt-1", "u1", subscription.BasicTier, t0)
	_, err := f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	first := f.record(t, "u1")

	res, err := f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, res.Outcome)

	second := f.record(t, "u1")
	assert.Equal(t, first.Version, second.Version)

	var rows int64
	require.NoError(t, f.db.Model(&model.BillingEvent{}).Where("event_id = ?", "evt-1").Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
	assert.Len(t, f.sent(), 1)
}

func TestSameContentUnderNewIDConvergesToSameState(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	_, err := f.rec.Apply(ctx, mobilePurchase("evt-1", "u1", subscription.BasicTier, t0))
	require.NoError(t, err)
	first := f.record(t, "u1")

	res, err := f.rec.Apply(ctx, mobilePurchase("evt-1-redelivered", "u1", subscription.BasicTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)

	second := f.record(t, "u1")
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.TierEventAt.Equal(*second.TierEventAt))
	assert.Len(t, f.sent(), 1, "no notification when nothing moved")
}

func TestCrossProviderOutOfOrderDelivery(t *testing.T) {
	purchase := mobilePurchase("rc-evt", "u1", subscription.PremiumTier, t0)
	expiry := Expiration{Envelope: webEnvelope("stripe-evt", "u1", t0.Add(2*time.Hour))}

	tests := []struct {
		name   string
		events []Event
		stale  int
	}{
		{name: "in order", events: []Event{purchase, expiry}},
		{name: "newer first", events: []Event{expiry, purchase}, stale: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newReconcilerFixture(t)
			require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

			stale := 0
			for _, ev := range tc.events {
				res, err := f.rec.Apply(ctx, ev)
				require.NoError(t, err)
				if res.Outcome == model.OutcomeStale {
					stale++
				}
			}
			assert.Equal(t, tc.stale, stale)

			rec := f.record(t, "u1")
			assert.Equal(t, subscription.FreeTier, rec.Tier)
			assert.Equal(t, subscription.StatusExpired, rec.Status)
			require.NotNil(t, rec.ExternalCustomerRef)
			require.NotNil(t, rec.ExternalSubscriberRef)
		})
	}
}

func TestWebCancellationAndLaterMobileRenewal(t *testing.T) {
	cancel := Cancellation{Envelope: webEnvelope("web-cancel", "u1", t0)}
	renewal := mobilePurchase("rc-renewal", "u1", subscription.PremiumTier, t0.Add(time.Hour))
	renewal.EventType = "RENEWAL"
	renewal.Renewal = true

	for name, order := range map[string][]Event{
		"cancel first":  {cancel, renewal},
		"renewal first": {renewal, cancel},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newReconcilerFixture(t)
			require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

			for _, ev := range order {
				_, err := f.rec.Apply(ctx, ev)
				require.NoError(t, err)
			}

			rec := f.record(t, "u1")
			assert.Equal(t, subscription.PremiumTier, rec.Tier)
			assert.Equal(t, subscription.StatusActive, rec.Status)
			assert.Equal(t, subscription.SourceIOS, rec.BillingSource)
		})
	}
}

func TestOlderCancellationDoesNotOverrideNewerPurchase(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	_, err := f.rec.Apply(ctx, mobilePurchase("p", "u1", subscription.BasicTier, t0.Add(time.Hour)))
	require.NoError(t, err)

	older := Cancellation{Envelope: mobilePurchase("c-old", "u1", "", t0).Envelope}
	res, err := f.rec.Apply(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeStale, res.Outcome)
	assert.Equal(t, subscription.StatusActive, f.record(t, "u1").Status)

	newer := Cancellation{Envelope: mobilePurchase("c-new", "u1", "", t0.Add(2*time.Hour)).Envelope}
	res, err = f.rec.Apply(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)

	rec := f.record(t, "u1")
	assert.Equal(t, subscription.BasicTier, rec.Tier, "cancellation keeps the tier")
	assert.Equal(t, subscription.StatusCancelled, rec.Status)

	require.NotNil(t, rec.PeriodEnd)
	assert.True(t, rec.PeriodEnd.Equal(t0.Add(time.Hour).AddDate(0, 1, 0)), "purchase period survives the cancellation")

	check := subscription.Check(rec.Snapshot(), subscription.BreathingFull, t0.Add(3*time.Hour))
	assert.True(t, check.Allowed, "paid period still running")

	check = subscription.Check(rec.Snapshot(), subscription.BreathingFull, rec.PeriodEnd.Add(subscription.EndDateGrace+time.Hour))
	assert.False(t, check.Allowed)
	assert.Equal(t, subscription.ReasonSubscriptionInactive, check.Reason)
}

func TestStripeCancelAtPeriodEndKeepsAccessMidPeriod(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))
	tr := NewStripeTranslator(testWebhookSecret, testPrices(t))

	created := translateStripe(t, tr, stripePayload(t, "evt_p", "customer.subscription.created", stripeSubscription("active", "price_premium"), nil))
	_, err := f.rec.Apply(ctx, created)
	require.NoError(t, err)

	sub := stripeSubscription("active", "price_premium")
	sub["cancel_at_period_end"] = true
	res, err := f.rec.Apply(ctx, translateStripe(t, tr, stripePayload(t, "evt_c", "customer.subscription.updated", sub, nil)))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)

	rec := f.record(t, "u1")
	assert.Equal(t, subscription.PremiumTier, rec.Tier)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)

	mid := t0.AddDate(0, 0, 15)
	for _, feature := range []subscription.Feature{subscription.AICoach, subscription.GenerateRecipe, subscription.AudioLibrary} {
		check := subscription.Check(rec.Snapshot(), feature, mid)
		assert.True(t, check.Allowed, "%s mid-period", feature)
	}

	after := t0.AddDate(0, 1, 0).Add(subscription.EndDateGrace + time.Minute)
	check := subscription.Check(rec.Snapshot(), subscription.AICoach, after)
	assert.False(t, check.Allowed)
	assert.Equal(t, subscription.ReasonSubscriptionInactive, check.Reason)
}

func TestUnmatchedEventCreatesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	res, err := f.rec.Apply(ctx, mobilePurchase("evt-x", "stranger", subscription.PremiumTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnmatched, res.Outcome)

	_, err = f.subs.Find(ctx, "stranger")
	assert.ErrorIs(t, err, apperr.ErrRecordNotFound)

	var row model.BillingEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt-x").Take(&row).Error)
	assert.Equal(t, model.OutcomeUnmatched, row.Outcome)
	assert.Nil(t, row.UserID)
	assert.Empty(t, f.sent())
}

func TestReplayAppliesPreviouslyUnmatchedEvent(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	ev := mobilePurchase("evt-late", "u3", subscription.PremiumTier, t0)

	res, err := f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeUnmatched, res.Outcome)

	require.NoError(t, f.users.Create(ctx, &model.User{ID: "u3", Email: "u3@example.com", PasswordHash: "x"}))

	res, err = f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDuplicate, res.Outcome, "plain redelivery stays a duplicate")

	res, err = f.rec.Replay(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)
	assert.Equal(t, "u3", res.UserID)
	assert.Equal(t, subscription.PremiumTier, f.record(t, "u3").Tier)

	var rows []model.BillingEvent
	require.NoError(t, f.db.Where("event_id = ?", "evt-late").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, model.OutcomeApplied, rows[0].Outcome)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, "u3", *rows[0].UserID)

	res, err = f.rec.Replay(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome, "replaying again converges")
	assert.Len(t, f.sent(), 1)
}

type gatedNotifier struct {
	release chan struct{}
	done    chan error
}

func (n *gatedNotifier) SubscriptionChanged(ctx context.Context, _ Notification) error {
	<-n.release
	if _, ok := ctx.Deadline(); !ok {
		n.done <- errors.New("notification context has no deadline")
		return nil
	}
	n.done <- ctx.Err()
	return nil
}

func TestNotificationRunsAfterApplyReturns(t *testing.T) {
	f := newReconcilerFixture(t)
	notifier := &gatedNotifier{release: make(chan struct{}), done: make(chan error, 1)}
	f.rec = NewReconciler(f.subs, f.users, repository.NewBillingEventRepository(f.db), notifier, zerolog.Nop())
	require.NoError(t, f.subs.EnsureExists(context.Background(), "u1", t0))

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.rec.Apply(ctx, mobilePurchase("evt-1", "u1", subscription.BasicTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)

	// The request is over before the notifier gets to run.
	cancel()
	close(notifier.release)
	f.rec.Wait()

	select {
	case err := <-notifier.done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("notification never ran")
	}
}

func TestKnownIdentityGetsRecordOnFirstEvent(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.users.Create(ctx, &model.User{ID: "u2", Email: "u2@example.com", PasswordHash: "x"}))

	res, err := f.rec.Apply(ctx, mobilePurchase("evt-1", "u2", subscription.PremiumTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscription.PremiumTier, f.record(t, "u2").Tier)
}

func TestIgnoredEventTouchesNothing(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	ev := Ignored{Envelope: webEnvelope("evt-i", "u1", t0), Reason: "unhandled event type"}
	res, err := f.rec.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeIgnored, res.Outcome)
	assert.EqualValues(t, 0, f.record(t, "u1").Version)
}

func TestLinkBindsCustomerWithoutEntitlementChange(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	res, err := f.rec.Apply(ctx, Link{Envelope: webEnvelope("cs-1", "u1", t0)})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)

	rec := f.record(t, "u1")
	require.NotNil(t, rec.ExternalCustomerRef)
	assert.Equal(t, "cus-u1", *rec.ExternalCustomerRef)
	assert.Equal(t, subscription.FreeTier, rec.Tier)
	assert.Nil(t, rec.TierEventAt)
	assert.Empty(t, f.sent())
}

func TestBillingLeavesUsageCountersAlone(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))
	_, err := f.subs.Mutate(ctx, "u1", func(r *model.SubscriptionRecord) (bool, error) {
		r.PeriodRecipeCount = 4
		return true, nil
	})
	require.NoError(t, err)

	_, err = f.rec.Apply(ctx, mobilePurchase("evt-1", "u1", subscription.BasicTier, t0))
	require.NoError(t, err)
	assert.Equal(t, 4, f.record(t, "u1").PeriodRecipeCount)
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)
	f.notifier.err = errors.New("smtp down")
	require.NoError(t, f.subs.EnsureExists(ctx, "u1", t0))

	res, err := f.rec.Apply(ctx, mobilePurchase("evt-1", "u1", subscription.BasicTier, t0))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeApplied, res.Outcome)
	assert.Equal(t, subscription.BasicTier, f.record(t, "u1").Tier)
}

func TestTransitionTrialAndBillingIssue(t *testing.T) {
	rec := model.NewSubscriptionRecord("u1", t0)

	trial := mobilePurchase("p", "u1", subscription.PremiumTier, t0)
	trial.Trial = true
	applied, changed := Transition(rec, trial, false)
	assert.True(t, applied)
	assert.True(t, changed)
	assert.Equal(t, subscription.StatusTrial, rec.Status)

	issue := BillingIssue{Envelope: trial.Envelope}
	issue.OccurredAt = t0.Add(time.Minute)
	Transition(rec, issue, false)
	assert.Equal(t, subscription.StatusExpired, rec.Status)
	assert.Equal(t, subscription.PremiumTier, rec.Tier)
}
