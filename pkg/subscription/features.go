package subscription

import "strings"

type Tier string
type Status string
type Source string
type Feature string
type UsageType string

const (
	FreeTier    Tier = "FREE"
	BasicTier   Tier = "BASIC"
	PremiumTier Tier = "PREMIUM"
)

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

const (
	SourceWeb     Source = "web"
	SourceIOS     Source = "ios"
	SourceAndroid Source = "android"
)

const (
	GenerateRecipe Feature = "generate_recipe"
	GenerateAudio  Feature = "generate_audio"
	AICoach        Feature = "ai_coach"
	Community      Feature = "community"
	AdvancedStats  Feature = "advanced_stats"
	BreathingFull  Feature = "breathing_full"
	AudioLibrary   Feature = "audio_library"
)

const (
	RecipeUsage UsageType = "recipe"
	AudioUsage  UsageType = "audio"
)

// Unlimited is the quota sentinel. Compare against it before doing any
// arithmetic on a quota.
const Unlimited = -1

// TierDefinition is one row of the tier catalog.
type TierDefinition struct {
	RecipesPerMonth int  `json:"recipes_per_month"`
	AudioPerMonth   int  `json:"audio_per_month"`
	CoachAccess     bool `json:"coach_access"`
	CommunityAccess bool `json:"community_access"`
	AdvancedStats   bool `json:"advanced_stats"`
	BreathingFull   bool `json:"breathing_full"`
	AudioLibrary    bool `json:"audio_library"`
}

var tierOrder = []Tier{FreeTier, BasicTier, PremiumTier}

var tierDefinitions = map[Tier]TierDefinition{
	FreeTier: {
		RecipesPerMonth: 5,
		AudioPerMonth:   0,
	},
	BasicTier: {
		RecipesPerMonth: 50,
		AudioPerMonth:   10,
		BreathingFull:   true,
		AudioLibrary:    true,
	},
	PremiumTier: {
		RecipesPerMonth: Unlimited,
		AudioPerMonth:   Unlimited,
		CoachAccess:     true,
		CommunityAccess: true,
		AdvancedStats:   true,
		BreathingFull:   true,
		AudioLibrary:    true,
	},
}

// LimitsFor returns the catalog row for a tier. Unknown tiers get the FREE row.
func LimitsFor(tier Tier) TierDefinition {
	if def, ok := tierDefinitions[tier]; ok {
		return def
	}
	return tierDefinitions[FreeTier]
}

// Tiers lists the catalog tiers from lowest to highest.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := tierDefinitions[t]
	return t, ok
}

// NextTier is the upgrade suggested when a quota runs out. PREMIUM maps to itself.
func NextTier(tier Tier) Tier {
	switch tier {
	case PremiumTier, BasicTier:
		return PremiumTier
	default:
		return BasicTier
	}
}

// LowestTierWith returns the cheapest tier whose definition satisfies pred.
func LowestTierWith(pred func(TierDefinition) bool) (Tier, bool) {
	for _, t := range tierOrder {
		if pred(tierDefinitions[t]) {
			return t, true
		}
	}
	return "", false
}

// Quota returns the monthly quota for a usage type, 0 for unknown types.
func (d TierDefinition) Quota(u UsageType) int {
	switch u {
	case RecipeUsage:
		return d.RecipesPerMonth
	case AudioUsage:
		return d.AudioPerMonth
	}
	return 0
}

// Flag reports the capability flag behind a boolean feature. known is false
// for quota features and unknown names.
func (d TierDefinition) Flag(f Feature) (enabled bool, known bool) {
	switch f {
	case AICoach:
		return d.CoachAccess, true
	case Community:
		return d.CommunityAccess, true
	case AdvancedStats:
		return d.AdvancedStats, true
	case BreathingFull:
		return d.BreathingFull, true
	case AudioLibrary:
		return d.AudioLibrary, true
	}
	return false, false
}

// UsageFor maps a metered feature to the counter it consumes.
func UsageFor(f Feature) (UsageType, bool) {
	switch f {
	case GenerateRecipe:
		return RecipeUsage, true
	case GenerateAudio:
		return AudioUsage, true
	}
	return "", false
}

func ParseUsageType(s string) (UsageType, bool) {
	switch u := UsageType(strings.ToLower(strings.TrimSpace(s))); u {
	case RecipeUsage, AudioUsage:
		return u, true
	}
	return "", false
}

// Features lists every gated feature name.
func Features() []Feature {
	return []Feature{GenerateRecipe, GenerateAudio, AICoach, Community, AdvancedStats, BreathingFull, AudioLibrary}
}

func IsKnownFeature(f Feature) bool {
	if _, ok := UsageFor(f); ok {
		return true
	}
	_, known := LimitsFor(FreeTier).Flag(f)
	return known
}

func (t Tier) Paid() bool {
	return t == BasicTier || t == PremiumTier
}
