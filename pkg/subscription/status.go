package subscription

import "time"

// Overview is the advisory view returned by the subscription-status endpoint.
// Clients may use it to render affordances; Check stays authoritative.
type Overview struct {
	Tier              Tier             `json:"tier"`
	Status            Status           `json:"status"`
	PeriodAnchor      time.Time        `json:"period_anchor"`
	PeriodEnd         *time.Time       `json:"period_end,omitempty"`
	Recipes           QuotaUsage       `json:"recipes"`
	Audio             QuotaUsage       `json:"audio"`
	CanGenerateRecipe bool             `json:"can_generate_recipe"`
	CanGenerateAudio  bool             `json:"can_generate_audio"`
	Features          map[Feature]bool `json:"features"`
	Limits            TierDefinition   `json:"limits"`
}

// Summarize builds an Overview from a normalized snapshot.
func Summarize(s Snapshot, now time.Time) Overview {
	limits := LimitsFor(s.Tier)
	ov := Overview{
		Tier:         s.Tier,
		Status:       s.Status,
		PeriodAnchor: s.Counters.Anchor,
		PeriodEnd:    s.PeriodEnd,
		Recipes:      *newQuotaUsage(s.Counters.Recipes, limits.RecipesPerMonth),
		Audio:        *newQuotaUsage(s.Counters.Audio, limits.AudioPerMonth),
		Features:     make(map[Feature]bool, len(Features())),
		Limits:       limits,
	}
	for _, f := range Features() {
		ov.Features[f] = Check(s, f, now).Allowed
	}
	ov.CanGenerateRecipe = ov.Features[GenerateRecipe]
	ov.CanGenerateAudio = ov.Features[GenerateAudio]
	return ov
}
