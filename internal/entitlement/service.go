// Package entitlement answers feature-gating questions for a user and owns
// the only code paths that advance usage counters.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nourish_backend/internal/metrics"
	"nourish_backend/internal/model"
	"nourish_backend/internal/repository"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

type Service struct {
	subs *repository.SubscriptionRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(subs *repository.SubscriptionRepository, log zerolog.Logger) *Service {
	return &Service{
		subs: subs,
		log:  log.With().Str("component", "entitlement").Logger(),
		now:  time.Now,
	}
}

// WithClock overrides the evaluation clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// load returns the user's record normalized for now, creating the default
// record on first access. A pending period reset is persisted.
func (s *Service) load(ctx context.Context, userID string, now time.Time) (*model.SubscriptionRecord, error) {
	if err := s.subs.EnsureExists(ctx, userID, now); err != nil {
		return nil, err
	}
	return s.subs.Mutate(ctx, userID, func(rec *model.SubscriptionRecord) (bool, error) {
		return rec.Normalize(now), nil
	})
}

// Status returns the advisory overview used for display.
func (s *Service) Status(ctx context.Context, userID string) (subscription.Overview, error) {
	now := s.now()
	rec, err := s.load(ctx, userID, now)
	if err != nil {
		return subscription.Overview{}, err
	}
	return subscription.Summarize(rec.Snapshot(), now), nil
}

// Check evaluates feature for userID without consuming quota.
func (s *Service) Check(ctx context.Context, userID string, feature subscription.Feature) (subscription.CheckResult, error) {
	now := s.now()
	rec, err := s.load(ctx, userID, now)
	if err != nil {
		return subscription.CheckResult{}, err
	}

	res := subscription.Check(rec.Snapshot(), feature, now)
	metrics.EntitlementChecks.WithLabelValues(string(feature), metrics.Outcome(res.Allowed, string(res.Reason))).Inc()
	if !res.Allowed {
		s.log.Debug().
			Str("user_id", userID).
			Str("feature", string(feature)).
			Str("reason", string(res.Reason)).
			Msg("feature denied")
	}
	return res, nil
}

// Increment records one unit of usage. The caller must have just received
// an allowed Check for the matching feature; the quota is not re-evaluated.
func (s *Service) Increment(ctx context.Context, userID string, usage subscription.UsageType) (int, error) {
	if _, ok := subscription.ParseUsageType(string(usage)); !ok {
		return 0, fmt.Errorf("usage type %q: %w", usage, apperr.ErrInvalidInput)
	}

	now := s.now()
	rec, err := s.subs.Mutate(ctx, userID, func(rec *model.SubscriptionRecord) (bool, error) {
		rec.Normalize(now)
		rec.SetCounters(rec.Counters().Add(usage, 1))
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	metrics.UsageIncrements.WithLabelValues(string(usage)).Inc()
	return rec.Counters().Used(usage), nil
}

// Consume checks a metered feature and, when allowed, records the usage in
// the same atomic write. Two callers racing for the last unit cannot both win.
func (s *Service) Consume(ctx context.Context, userID string, feature subscription.Feature) (subscription.CheckResult, error) {
	usage, ok := subscription.UsageFor(feature)
	if !ok {
		return subscription.CheckResult{}, fmt.Errorf("feature %q is not metered: %w", feature, apperr.ErrInvalidInput)
	}

	now := s.now()
	if err := s.subs.EnsureExists(ctx, userID, now); err != nil {
		return subscription.CheckResult{}, err
	}

	var res subscription.CheckResult
	_, err := s.subs.Mutate(ctx, userID, func(rec *model.SubscriptionRecord) (bool, error) {
		reset := rec.Normalize(now)
		res = subscription.Check(rec.Snapshot(), feature, now)
		if !res.Allowed {
			return reset, nil
		}
		rec.SetCounters(rec.Counters().Add(usage, 1))
		return true, nil
	})
	if err != nil {
		return subscription.CheckResult{}, err
	}

	metrics.EntitlementChecks.WithLabelValues(string(feature), metrics.Outcome(res.Allowed, string(res.Reason))).Inc()
	if res.Allowed {
		metrics.UsageIncrements.WithLabelValues(string(usage)).Inc()
		if res.Usage != nil {
			res.Usage.Used++
			if res.Usage.Remaining > 0 {
				res.Usage.Remaining--
			}
		}
	}
	return res, nil
}
