package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"nourish_backend/internal/metrics"
	"nourish_backend/internal/model"
	"nourish_backend/internal/repository"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/subscription"
)

// Result describes what Apply did with an event. Only backing-store failures
// are returned as errors; every other outcome is acknowledged to the provider.
type Result struct {
	Outcome model.BillingOutcome `json:"outcome"`
	UserID  string               `json:"user_id,omitempty"`
}

// notifyTimeout bounds a notification sent after the webhook was answered.
const notifyTimeout = 30 * time.Second

type Reconciler struct {
	subs     *repository.SubscriptionRepository
	users    *repository.UserRepository
	events   *repository.BillingEventRepository
	notifier Notifier
	log      zerolog.Logger
	inflight sync.WaitGroup
}

func NewReconciler(
	subs *repository.SubscriptionRepository,
	users *repository.UserRepository,
	events *repository.BillingEventRepository,
	notifier Notifier,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		subs:     subs,
		users:    users,
		events:   events,
		notifier: notifier,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Apply runs ev through the transition table. Replaying an event is safe:
// transitions are plain assignments guarded by the event's effective time.
// Notifications are sent in the background; Wait drains them.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	return r.apply(ctx, ev, false)
}

// Replay applies ev even when its event id is already recorded, for events
// that were unmatched or ignored at delivery time. The audit row is updated
// with the new outcome.
func (r *Reconciler) Replay(ctx context.Context, ev Event) (Result, error) {
	return r.apply(ctx, ev, true)
}

// Wait blocks until background notifications have finished.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}

func (r *Reconciler) apply(ctx context.Context, ev Event, force bool) (Result, error) {
	meta := ev.Meta()
	logger := r.log.With().
		Str("provider", string(meta.Provider)).
		Str("event_id", meta.EventID).
		Str("event_type", meta.EventType).
		Str("kind", string(ev.Kind())).
		Logger()

	if meta.EventID != "" && !force {
		seen, err := r.events.Seen(ctx, string(meta.Provider), meta.EventID)
		if err != nil {
			return Result{}, err
		}
		if seen {
			logger.Info().Msg("duplicate billing event acknowledged")
			return r.finish(ctx, ev, Result{Outcome: model.OutcomeDuplicate}, false, false)
		}
	}

	if ign, ok := ev.(Ignored); ok {
		logger.Info().Str("reason", ign.Reason).Msg("billing event ignored")
		return r.finish(ctx, ev, Result{Outcome: model.OutcomeIgnored}, true, force)
	}

	userID, link, err := r.locate(ctx, meta)
	if err != nil {
		return Result{}, err
	}
	if userID == "" {
		logger.Warn().
			Str("provider_ref", meta.ProviderRef()).
			Str("user_hint", meta.UserID).
			Msg("billing event matched no subscription record, discarded")
		return r.finish(ctx, ev, Result{Outcome: model.OutcomeUnmatched}, true, force)
	}

	var applied, moved bool
	rec, err := r.subs.Mutate(ctx, userID, func(rec *model.SubscriptionRecord) (bool, error) {
		tier, status := rec.Tier, rec.Status
		var changed bool
		applied, changed = Transition(rec, ev, link)
		moved = rec.Tier != tier || rec.Status != status
		return changed, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Outcome: model.OutcomeApplied, UserID: userID}
	if !applied {
		res.Outcome = model.OutcomeStale
		logger.Info().Str("user_id", userID).Time("occurred_at", meta.OccurredAt).Msg("billing event older than current state")
	} else {
		logger.Info().Str("user_id", userID).Msg("billing event applied")
		if p, ok := ev.(Purchase); moved || (ok && p.Renewal) {
			r.notify(ctx, ev, rec)
		}
	}
	return r.finish(ctx, ev, res, true, force)
}

func (r *Reconciler) finish(ctx context.Context, ev Event, res Result, record, overwrite bool) (Result, error) {
	meta := ev.Meta()
	metrics.BillingEvents.WithLabelValues(string(meta.Provider), string(ev.Kind()), string(res.Outcome)).Inc()
	if !record || meta.EventID == "" {
		return res, nil
	}

	row := &model.BillingEvent{
		Provider:   string(meta.Provider),
		EventID:    meta.EventID,
		EventType:  meta.EventType,
		Kind:       string(ev.Kind()),
		Outcome:    res.Outcome,
		OccurredAt: meta.OccurredAt,
	}
	if res.UserID != "" {
		uid := res.UserID
		row.UserID = &uid
	}
	if len(meta.Payload) > 0 && json.Valid(meta.Payload) {
		row.Payload = datatypes.JSON(meta.Payload)
	}
	store := r.events.Record
	if overwrite {
		store = r.events.Overwrite
	}
	if err := store(ctx, row); err != nil {
		// The transition is already durable; losing the audit row is not worth a provider retry.
		r.log.Error().Err(err).Str("event_id", meta.EventID).Msg("failed to record billing event")
	}
	return res, nil
}

// locate finds the user whose record the event targets. link is true when the
// match came from the user id hint, so the provider reference should be
// attached to the record.
func (r *Reconciler) locate(ctx context.Context, meta Envelope) (userID string, link bool, err error) {
	if ref := meta.ProviderRef(); ref != "" {
		var rec *model.SubscriptionRecord
		if meta.Provider == ProviderStripe {
			rec, err = r.subs.FindByCustomerRef(ctx, ref)
		} else {
			rec, err = r.subs.FindBySubscriberRef(ctx, ref)
		}
		if err == nil {
			return rec.UserID, false, nil
		}
		if !errors.Is(err, apperr.ErrRecordNotFound) {
			return "", false, err
		}
	}

	if meta.UserID == "" {
		return "", false, nil
	}

	_, err = r.subs.Find(ctx, meta.UserID)
	if err == nil {
		return meta.UserID, true, nil
	}
	if !errors.Is(err, apperr.ErrRecordNotFound) {
		return "", false, err
	}

	known, err := r.users.Exists(ctx, meta.UserID)
	if err != nil || !known {
		return "", false, err
	}
	if err := r.subs.EnsureExists(ctx, meta.UserID, time.Now()); err != nil {
		return "", false, err
	}
	return meta.UserID, true, nil
}

// Transition applies ev to rec with per-field last-write-wins on the event's
// effective time. applied reports whether any entitlement field was written;
// changed whether rec must be persisted.
func Transition(rec *model.SubscriptionRecord, ev Event, link bool) (applied bool, changed bool) {
	meta := ev.Meta()
	at := meta.OccurredAt

	if _, isLink := ev.(Link); link || isLink {
		changed = linkRef(rec, meta)
	}

	setTier := func(fn func()) {
		if newer(rec.TierEventAt, at) {
			fn()
			rec.TierEventAt = &at
			applied = true
		}
	}
	setStatus := func(status subscription.Status) {
		if newer(rec.StatusEventAt, at) {
			rec.Status = status
			rec.StatusEventAt = &at
			applied = true
		}
	}

	switch e := ev.(type) {
	case Purchase:
		setTier(func() {
			rec.Tier = e.Tier
			rec.PeriodStart = e.PeriodStart
			rec.PeriodEnd = e.PeriodEnd
			if e.SubscriptionRef != "" {
				ref := e.SubscriptionRef
				rec.WebSubscriptionRef = &ref
			}
		})
		if e.Trial {
			setStatus(subscription.StatusTrial)
		} else {
			setStatus(subscription.StatusActive)
		}
	case Cancellation:
		setStatus(subscription.StatusCancelled)
		if applied && e.PeriodEnd != nil {
			rec.PeriodEnd = e.PeriodEnd
		}
	case Expiration:
		setTier(func() { rec.Tier = subscription.FreeTier })
		setStatus(subscription.StatusExpired)
	case BillingIssue:
		setStatus(subscription.StatusExpired)
	case Link:
		return changed, changed
	}

	if applied {
		rec.BillingSource = meta.Source
		changed = true
	}
	return applied, changed
}

func newer(guard *time.Time, at time.Time) bool {
	return guard == nil || !at.Before(*guard)
}

func linkRef(rec *model.SubscriptionRecord, meta Envelope) bool {
	ref := meta.ProviderRef()
	if ref == "" {
		return false
	}
	target := &rec.ExternalSubscriberRef
	if meta.Provider == ProviderStripe {
		target = &rec.ExternalCustomerRef
	}
	if *target != nil && **target == ref {
		return false
	}
	*target = &ref
	return true
}

func (r *Reconciler) notify(ctx context.Context, ev Event, rec *model.SubscriptionRecord) {
	if r.notifier == nil {
		return
	}
	userID := rec.UserID
	n := Notification{UserID: userID, Kind: ev.Kind(), Tier: rec.Tier}
	switch e := ev.(type) {
	case Purchase:
		n.Tier = e.Tier
		n.PeriodEnd = e.PeriodEnd
		n.Renewal = e.Renewal
	case Cancellation:
		n.PeriodEnd = e.PeriodEnd
		if n.PeriodEnd == nil {
			n.PeriodEnd = rec.PeriodEnd
		}
	default:
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := r.notifier.SubscriptionChanged(ctx, n); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Str("kind", string(n.Kind)).Msg("subscription notification failed")
		}
	}()
}
