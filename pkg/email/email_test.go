package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *EmailService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewEmailService("re_test", "", time.Second, zerolog.Nop())
	require.NoError(t, err)
	return svc.WithEndpoint(srv.URL)
}

func TestSendSubscriptionStartedEmail(t *testing.T) {
	var got EmailData
	var auth string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	})

	end := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	err := svc.SendSubscriptionStartedEmail(context.Background(), "ana@example.com", SubscriptionEmailData{
		Name:            "Ana",
		PlanName:        "PREMIUM",
		RecipesPerMonth: -1,
		AudioPerMonth:   -1,
		RenewsAt:        &end,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "ana@example.com", got.To)
	assert.Equal(t, "Welcome to Nourish PREMIUM!", got.Subject)
	assert.Contains(t, got.Html, "Unlimited")
	assert.Contains(t, got.Html, "July 1, 2026")
}

func TestSendCancelledEmailWithoutPeriodEnd(t *testing.T) {
	var got EmailData
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := svc.SendSubscriptionCancelledEmail(context.Background(), "ana@example.com", SubscriptionCancelledData{PlanName: "BASIC"})
	require.NoError(t, err)
	assert.Contains(t, got.Html, "BASIC subscription has been cancelled")
	assert.NotContains(t, got.Html, "billing period ends")
}

func TestSendEmailRejected(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	})

	err := svc.SendWelcomeEmail(context.Background(), "ana@example.com", "Ana")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid from")
}

func TestNewEmailServiceRequiresKey(t *testing.T) {
	_, err := NewEmailService("", "", 0, zerolog.Nop())
	assert.Error(t, err)
}
