package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paysync/pkg/billing"
)

const paddleTestSecret = "pdl_ntfset_test_secret"

func signedPaddleRequest(payload string) billing.WebhookRequest {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(paddleTestSecret))
	mac.Write([]byte(ts + ":" + payload))

	header := http.Header{}
	header.Set("Paddle-Signature", fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return billing.WebhookRequest{Header: header, Body: []byte(payload)}
}

func newPaddleTestProvider(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: paddleTestSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return p
}

func TestNewPaddleProvider(t *testing.T) {
	t.Parallel()

	_, err := billing.NewPaddleProvider(billing.PaddleConfig{WebhookSecret: "secret"})
	assert.ErrorIs(t, err, billing.ErrMissingAPIKey)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "key"})
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "key", WebhookSecret: "secret", Environment: "staging"})
	assert.ErrorIs(t, err, billing.ErrInvalidProviderEnv)
}

func TestPaddleProvider_CreateSubscription(t *testing.T) {
	t.Parallel()

	_, err := newPaddleTestProvider(t).CreateSubscription(context.Background(), billing.SubscriptionParams{})
	assert.ErrorIs(t, err, billing.ErrUnsupportedOperation)
}

func TestPaddleProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newPaddleTestProvider(t)

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()

		_, err := p.ParseWebhook(context.Background(), billing.WebhookRequest{Header: http.Header{}, Body: []byte(`{}`)})
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()

		req := signedPaddleRequest(`{"event_id":"evt_1","event_type":"subscription.created","data":{}}`)
		req.Body = []byte(`{"event_id":"evt_2","event_type":"subscription.created","data":{}}`)

		_, err := p.ParseWebhook(context.Background(), req)
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("subscription canceled maps to deletion", func(t *testing.T) {
		t.Parallel()

		req := signedPaddleRequest(`{
			"event_id": "evt_01",
			"event_type": "subscription.canceled",
			"occurred_at": "2026-04-01T10:00:00Z",
			"data": {
				"id": "sub_01",
				"status": "canceled",
				"customer_id": "ctm_01",
				"canceled_at": "2026-04-01T09:59:00Z",
				"custom_data": {"customer_id": "abc", "seats": 5},
				"items": [{"quantity": 2, "price": {"id": "pri_01"}}]
			}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "evt_01", event.ID)
		assert.Equal(t, billing.EventSubscriptionDeleted, event.Type)
		assert.Equal(t, "subscription.canceled", event.ProviderEvent)

		data, ok := event.Data.(*billing.SubscriptionEventData)
		require.True(t, ok)
		assert.Equal(t, "ctm_01", data.CustomerProviderID)
		assert.Equal(t, "pri_01", data.PriceProviderID)
		assert.Equal(t, int64(2), data.Quantity)
		assert.Equal(t, billing.StatusCanceled, data.Status)
		require.NotNil(t, data.CanceledAt)
		assert.Equal(t, map[string]string{"customer_id": "abc", "seats": "5"}, data.Metadata)
	})

	t.Run("trialing subscription carries trial end", func(t *testing.T) {
		t.Parallel()

		req := signedPaddleRequest(`{
			"event_id": "evt_02",
			"event_type": "subscription.trialing",
			"data": {
				"id": "sub_02",
				"status": "trialing",
				"customer_id": "ctm_01",
				"items": [{"quantity": 1, "trial_dates": {"ends_at": "2026-04-15T00:00:00Z"}, "price": {"id": "pri_01"}}]
			}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionUpdated, event.Type)
		data, ok := event.Data.(*billing.SubscriptionEventData)
		require.True(t, ok)
		require.NotNil(t, data.TrialEndsAt)
		assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), data.TrialEndsAt.UTC())
	})

	t.Run("completed transaction", func(t *testing.T) {
		t.Parallel()

		req := signedPaddleRequest(`{
			"event_id": "evt_03",
			"event_type": "transaction.completed",
			"data": {
				"id": "txn_01",
				"status": "completed",
				"customer_id": "ctm_01",
				"subscription_id": "sub_01",
				"currency_code": "EUR",
				"details": {"totals": {"grand_total": "2900"}},
				"payments": [{"status": "captured", "amount": "2900"}, {"status": "error", "amount": "2900"}]
			}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaymentSucceeded, event.Type)
		data, ok := event.Data.(*billing.InvoiceEventData)
		require.True(t, ok)
		assert.Equal(t, int64(2900), data.AmountDue)
		assert.Equal(t, int64(2900), data.AmountPaid)
		assert.Equal(t, "eur", data.Currency)
		assert.Equal(t, "sub_01", data.SubscriptionProviderID)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		t.Parallel()

		event, err := p.ParseWebhook(context.Background(), signedPaddleRequest(`{"event_id":"evt_04","event_type":"address.created","data":{}}`))
		require.NoError(t, err)
		assert.Nil(t, event)
	})

	t.Run("undecodable data becomes an error event", func(t *testing.T) {
		t.Parallel()

		event, err := p.ParseWebhook(context.Background(), signedPaddleRequest(`{"event_id":"evt_05","event_type":"customer.updated","data":{"id":42}}`))
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, billing.EventError, event.Type)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		t.Parallel()

		_, err := p.ParseWebhook(context.Background(), signedPaddleRequest(`not json`))
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
	})
}
