package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var evalNow = time.Date(2026, time.April, 14, 10, 0, 0, 0, time.UTC)

func snapshot(tier Tier, status Status, recipes, audio int) Snapshot {
	return Snapshot{
		Tier:     tier,
		Status:   status,
		Counters: Counters{Recipes: recipes, Audio: audio, Anchor: PeriodAnchor(evalNow)},
	}
}

func TestCheckRecipeQuota(t *testing.T) {
	res := Check(snapshot(FreeTier, StatusActive, 0, 0), GenerateRecipe, evalNow)
	require.True(t, res.Allowed)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 5, res.Usage.Remaining)

	res = Check(snapshot(FreeTier, StatusActive, 5, 0), GenerateRecipe, evalNow)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonLimitReached, res.Reason)
	require.NotNil(t, res.UpgradeTier)
	assert.Equal(t, BasicTier, *res.UpgradeTier)
	assert.Contains(t, res.Message, "5")

	res = Check(snapshot(BasicTier, StatusActive, 50, 0), GenerateRecipe, evalNow)
	require.False(t, res.Allowed)
	assert.Equal(t, PremiumTier, *res.UpgradeTier)
	assert.Contains(t, res.Message, "50")
}

func TestCheckZeroQuotaIsNotAvailable(t *testing.T) {
	res := Check(snapshot(FreeTier, StatusActive, 0, 0), GenerateAudio, evalNow)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonFeatureNotAvailable, res.Reason)
	require.NotNil(t, res.UpgradeTier)
	assert.Equal(t, BasicTier, *res.UpgradeTier)
}

func TestCheckBooleanFeatures(t *testing.T) {
	cases := []struct {
		tier    Tier
		feature Feature
		allowed bool
		upgrade Tier
	}{
		{FreeTier, BreathingFull, false, BasicTier},
		{FreeTier, AudioLibrary, false, BasicTier},
		{FreeTier, AICoach, false, PremiumTier},
		{BasicTier, BreathingFull, true, ""},
		{BasicTier, Community, false, PremiumTier},
		{BasicTier, AdvancedStats, false, PremiumTier},
		{PremiumTier, AICoach, true, ""},
		{PremiumTier, Community, true, ""},
	}
	for _, tc := range cases {
		t.Run(string(tc.tier)+"/"+string(tc.feature), func(t *testing.T) {
			res := Check(snapshot(tc.tier, StatusActive, 0, 0), tc.feature, evalNow)
			assert.Equal(t, tc.allowed, res.Allowed)
			if tc.allowed {
				assert.Empty(t, res.Reason)
				return
			}
			assert.Equal(t, ReasonFeatureNotAvailable, res.Reason)
			require.NotNil(t, res.UpgradeTier)
			assert.Equal(t, tc.upgrade, *res.UpgradeTier)
		})
	}
}

func TestCheckInactiveOverridesTier(t *testing.T) {
	for _, status := range []Status{StatusExpired, StatusCancelled, Status("paused")} {
		res := Check(snapshot(PremiumTier, status, 0, 0), AICoach, evalNow)
		require.False(t, res.Allowed)
		assert.Equal(t, ReasonSubscriptionInactive, res.Reason)
		assert.Equal(t, BasicTier, *res.UpgradeTier)
	}

	res := Check(snapshot(PremiumTier, StatusTrial, 0, 0), AICoach, evalNow)
	assert.True(t, res.Allowed)
}

func TestCheckCancelledRunsToPeriodEnd(t *testing.T) {
	s := snapshot(PremiumTier, StatusCancelled, 0, 0)

	end := evalNow.AddDate(0, 0, 10)
	s.PeriodEnd = &end
	res := Check(s, AICoach, evalNow)
	assert.True(t, res.Allowed, "paid period still running")
	assert.Empty(t, res.Reason)

	assert.True(t, Check(s, AICoach, end.Add(EndDateGrace)).Allowed, "last instant of grace")

	res = Check(s, AICoach, end.Add(EndDateGrace+time.Minute))
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonSubscriptionInactive, res.Reason)
	assert.Equal(t, BasicTier, *res.UpgradeTier)

	basic := snapshot(BasicTier, StatusCancelled, 50, 0)
	basic.PeriodEnd = &end
	res = Check(basic, GenerateRecipe, evalNow)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonLimitReached, res.Reason, "quota still applies while cancelled")
}

func TestCheckUnknownFeature(t *testing.T) {
	res := Check(snapshot(PremiumTier, StatusActive, 0, 0), Feature("teleport"), evalNow)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonUnknownFeature, res.Reason)
	assert.Nil(t, res.UpgradeTier)
}

func TestCheckLapsedPaidPeriod(t *testing.T) {
	s := snapshot(BasicTier, StatusActive, 0, 0)

	end := evalNow.Add(-EndDateGrace + time.Hour)
	s.PeriodEnd = &end
	assert.True(t, Check(s, BreathingFull, evalNow).Allowed, "inside grace window")

	end = evalNow.Add(-EndDateGrace - time.Hour)
	s.PeriodEnd = &end
	res := Check(s, BreathingFull, evalNow)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonSubscriptionInactive, res.Reason)

	free := snapshot(FreeTier, StatusActive, 0, 0)
	free.PeriodEnd = &end
	assert.True(t, Check(free, GenerateRecipe, evalNow).Allowed, "free tier never lapses")
}

func TestCheckPremiumUnlimited(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		used := rapid.IntRange(0, 1<<30).Draw(t, "used")
		feature := rapid.SampledFrom([]Feature{GenerateRecipe, GenerateAudio}).Draw(t, "feature")

		res := Check(snapshot(PremiumTier, StatusActive, used, used), feature, evalNow)
		if !res.Allowed {
			t.Fatalf("premium denied %s at used=%d: %+v", feature, used, res)
		}
		if res.Usage.Remaining != Unlimited {
			t.Fatalf("remaining = %d, want unlimited", res.Usage.Remaining)
		}
	})
}

func TestCheckQuotaBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tier := rapid.SampledFrom([]Tier{FreeTier, BasicTier}).Draw(t, "tier")
		used := rapid.IntRange(0, 200).Draw(t, "used")

		res := Check(snapshot(tier, StatusActive, used, 0), GenerateRecipe, evalNow)
		want := used < LimitsFor(tier).RecipesPerMonth
		if res.Allowed != want {
			t.Fatalf("tier=%s used=%d allowed=%v want %v", tier, used, res.Allowed, want)
		}
	})
}

func TestSummarize(t *testing.T) {
	ov := Summarize(snapshot(BasicTier, StatusActive, 12, 10), evalNow)

	assert.Equal(t, BasicTier, ov.Tier)
	assert.Equal(t, 38, ov.Recipes.Remaining)
	assert.Equal(t, 0, ov.Audio.Remaining)
	assert.True(t, ov.CanGenerateRecipe)
	assert.False(t, ov.CanGenerateAudio)
	assert.True(t, ov.Features[AudioLibrary])
	assert.False(t, ov.Features[AICoach])
	assert.Len(t, ov.Features, len(Features()))
}
