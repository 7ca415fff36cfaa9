package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nourish_backend/pkg/subscription"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/nourish")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 8*time.Second, cfg.Server.UpstreamTimeout)
	assert.Equal(t, 25, cfg.Server.CASRetries)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "0 9 * * *", cfg.Cron.ExpirySpec)
	assert.Equal(t, 0, cfg.Stripe.Prices.Len())
}

func TestFromEnvRequiredKeys(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "x")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/nourish")
	t.Setenv("JWT_SECRET", "")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestFromEnvProductTables(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_PRICE_TIERS", "price_basic:BASIC,price_premium:PREMIUM")
	t.Setenv("MOBILE_PRODUCT_TIERS", "nourish.premium.monthly:PREMIUM")
	t.Setenv("UPSTREAM_TIMEOUT_SECONDS", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)

	tier, ok := cfg.Stripe.Prices.TierFor("price_premium")
	require.True(t, ok)
	assert.Equal(t, subscription.PremiumTier, tier)

	tier, ok = cfg.Mobile.Products.TierFor("nourish.premium.monthly")
	require.True(t, ok)
	assert.Equal(t, subscription.PremiumTier, tier)
	assert.Equal(t, 3*time.Second, cfg.Server.UpstreamTimeout)

	t.Setenv("MOBILE_PRODUCT_TIERS", "nourish.gold:GOLD")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "MOBILE_PRODUCT_TIERS")
}
