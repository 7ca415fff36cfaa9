package subscription

import (
	"fmt"
	"time"
)

type Reason string

const (
	ReasonSubscriptionInactive Reason = "SUBSCRIPTION_INACTIVE"
	ReasonLimitReached         Reason = "LIMIT_REACHED"
	ReasonFeatureNotAvailable  Reason = "FEATURE_NOT_AVAILABLE"
	ReasonUnknownFeature       Reason = "UNKNOWN_FEATURE"
)

// EndDateGrace is how long a paid, still-active subscription keeps access
// after its provider period end when no renewal or expiration has arrived.
const EndDateGrace = 72 * time.Hour

// Snapshot is the part of a subscription record the evaluator reads.
type Snapshot struct {
	Tier      Tier
	Status    Status
	Counters  Counters
	PeriodEnd *time.Time
}

// QuotaUsage describes a metered feature. Remaining is Unlimited when the
// quota is unlimited.
type QuotaUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type CheckResult struct {
	Allowed     bool        `json:"allowed"`
	Reason      Reason      `json:"reason,omitempty"`
	Message     string      `json:"message"`
	UpgradeTier *Tier       `json:"upgrade_tier"`
	Usage       *QuotaUsage `json:"usage,omitempty"`
}

func newQuotaUsage(used, limit int) *QuotaUsage {
	if limit == Unlimited {
		return &QuotaUsage{Used: used, Limit: Unlimited, Remaining: Unlimited}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &QuotaUsage{Used: used, Limit: limit, Remaining: remaining}
}

func deny(reason Reason, message string, upgrade Tier) CheckResult {
	res := CheckResult{Reason: reason, Message: message}
	if upgrade != "" {
		res.UpgradeTier = &upgrade
	}
	return res
}

// Lapsed reports a paid subscription whose provider period ended more than
// EndDateGrace ago while its status never left active or trial.
func (s Snapshot) Lapsed(now time.Time) bool {
	if !s.Tier.Paid() || s.PeriodEnd == nil {
		return false
	}
	return now.After(s.PeriodEnd.Add(EndDateGrace))
}

// Active reports whether the subscription still grants its tier at now. A
// cancelled subscription keeps its tier until the paid period plus
// EndDateGrace has passed; with no known period end it grants nothing.
func (s Snapshot) Active(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusTrial:
		return !s.Lapsed(now)
	case StatusCancelled:
		return s.PeriodEnd != nil && !now.After(s.PeriodEnd.Add(EndDateGrace))
	}
	return false
}

// Check decides whether feature may be used. s must already be normalized
// for now. Check has no side effects.
func Check(s Snapshot, feature Feature, now time.Time) CheckResult {
	if !s.Active(now) {
		return deny(ReasonSubscriptionInactive, "Your subscription is not active", BasicTier)
	}

	limits := LimitsFor(s.Tier)

	if usage, ok := UsageFor(feature); ok {
		quota := limits.Quota(usage)
		used := s.Counters.Used(usage)

		if quota == Unlimited {
			return CheckResult{Allowed: true, Message: "OK", Usage: newQuotaUsage(used, quota)}
		}
		if quota == 0 {
			upgrade, _ := LowestTierWith(func(d TierDefinition) bool { return d.Quota(usage) != 0 })
			res := deny(ReasonFeatureNotAvailable,
				fmt.Sprintf("%s is not available on the %s plan", featureLabel(feature), s.Tier), upgrade)
			res.Usage = newQuotaUsage(used, quota)
			return res
		}
		if used < quota {
			return CheckResult{Allowed: true, Message: "OK", Usage: newQuotaUsage(used, quota)}
		}
		res := deny(ReasonLimitReached,
			fmt.Sprintf("You have reached your limit of %d %s this month", quota, usageNoun(usage)), NextTier(s.Tier))
		res.Usage = newQuotaUsage(used, quota)
		return res
	}

	enabled, known := limits.Flag(feature)
	if !known {
		return deny(ReasonUnknownFeature, fmt.Sprintf("Unknown feature %q", feature), "")
	}
	if enabled {
		return CheckResult{Allowed: true, Message: "OK"}
	}
	upgrade, _ := LowestTierWith(func(d TierDefinition) bool {
		on, _ := d.Flag(feature)
		return on
	})
	return deny(ReasonFeatureNotAvailable,
		fmt.Sprintf("%s is not available on the %s plan", featureLabel(feature), s.Tier), upgrade)
}

func usageNoun(u UsageType) string {
	if u == AudioUsage {
		return "audio generations"
	}
	return "recipe generations"
}

func featureLabel(f Feature) string {
	switch f {
	case GenerateRecipe:
		return "Recipe generation"
	case GenerateAudio:
		return "Audio generation"
	case AICoach:
		return "The AI coach"
	case Community:
		return "The community"
	case AdvancedStats:
		return "Advanced statistics"
	case BreathingFull:
		return "The full breathing library"
	case AudioLibrary:
		return "The audio library"
	}
	return string(f)
}
