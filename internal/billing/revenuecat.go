package billing

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"nourish_backend/pkg/subscription"
)

const anonymousPrefix = "$RCAnonymousID:"

type revenueCatPayload struct {
	APIVersion string          `json:"api_version"`
	Event      revenueCatEvent `json:"event"`
}

type revenueCatEvent struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	AppUserID         string   `json:"app_user_id"`
	OriginalAppUserID string   `json:"original_app_user_id"`
	Aliases           []string `json:"aliases"`
	ProductID         string   `json:"product_id"`
	PeriodType        string   `json:"period_type"`
	Store             string   `json:"store"`
	Environment       string   `json:"environment"`
	PurchasedAtMs     int64    `json:"purchased_at_ms"`
	ExpirationAtMs    int64    `json:"expiration_at_ms"`
	EventTimestampMs  int64    `json:"event_timestamp_ms"`
	CancelReason      string   `json:"cancel_reason"`
}

// RevenueCatTranslator authenticates mobile store webhooks relayed by
// RevenueCat and maps them onto billing events.
type RevenueCatTranslator struct {
	auth     string
	products *subscription.ProductCatalog
}

func NewRevenueCatTranslator(authHeader string, products *subscription.ProductCatalog) *RevenueCatTranslator {
	return &RevenueCatTranslator{auth: authHeader, products: products}
}

// Authorized compares the Authorization header with the configured secret.
// Both the raw value and a Bearer form are accepted.
func (t *RevenueCatTranslator) Authorized(header string) bool {
	if t.auth == "" || header == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if subtle.ConstantTimeCompare([]byte(header), []byte(t.auth)) == 1 {
		return true
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(t.auth)) == 1
}

func (t *RevenueCatTranslator) Parse(payload []byte, authHeader string) (Event, error) {
	if !t.Authorized(authHeader) {
		return nil, ErrInvalidSignature
	}
	return t.Translate(payload)
}

func (t *RevenueCatTranslator) Translate(payload []byte) (Event, error) {
	var body revenueCatPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("revenuecat body: %w", ErrInvalidPayload)
	}
	ev := body.Event
	if ev.ID == "" || ev.Type == "" || ev.EventTimestampMs <= 0 {
		return nil, fmt.Errorf("revenuecat event missing id, type or timestamp: %w", ErrInvalidPayload)
	}

	env := Envelope{
		Provider:      ProviderRevenueCat,
		EventID:       ev.ID,
		EventType:     ev.Type,
		OccurredAt:    *millisTime(ev.EventTimestampMs),
		SubscriberRef: ev.OriginalAppUserID,
		UserID:        ev.AppUserID,
		Payload:       payload,
	}
	if env.SubscriberRef == "" {
		env.SubscriberRef = ev.AppUserID
	}
	if strings.HasPrefix(env.UserID, anonymousPrefix) {
		env.UserID = ""
	}

	switch ev.Store {
	case "APP_STORE", "MAC_APP_STORE":
		env.Source = subscription.SourceIOS
	case "PLAY_STORE":
		env.Source = subscription.SourceAndroid
	default:
		return Ignored{Envelope: env, Reason: "unsupported store " + ev.Store}, nil
	}

	switch ev.Type {
	case "INITIAL_PURCHASE", "RENEWAL", "UNCANCELLATION", "NON_RENEWING_PURCHASE":
		tier, ok := t.products.TierFor(ev.ProductID)
		if !ok {
			return Ignored{Envelope: env, Reason: "unknown product " + ev.ProductID}, nil
		}
		return Purchase{
			Envelope:    env,
			Tier:        tier,
			Trial:       ev.PeriodType == "TRIAL",
			Renewal:     ev.Type == "RENEWAL",
			ProductID:   ev.ProductID,
			PeriodStart: millisTime(ev.PurchasedAtMs),
			PeriodEnd:   millisTime(ev.ExpirationAtMs),
		}, nil
	case "CANCELLATION":
		return Cancellation{Envelope: env, PeriodEnd: millisTime(ev.ExpirationAtMs)}, nil
	case "EXPIRATION":
		return Expiration{Envelope: env}, nil
	case "BILLING_ISSUE":
		return BillingIssue{Envelope: env}, nil
	case "PRODUCT_CHANGE":
		return Ignored{Envelope: env, Reason: "product change applies on next renewal"}, nil
	}
	return Ignored{Envelope: env, Reason: "unhandled event type"}, nil
}
