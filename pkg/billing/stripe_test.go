package billing_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/paysync/pkg/billing"
)

const stripeTestSecret = "whsec_test_secret"

func newStripeTestProvider(t *testing.T) *billing.StripeProvider {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: stripeTestSecret,
	})
	require.NoError(t, err)
	return p
}

func signedStripeRequest(payload string) billing.WebhookRequest {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    stripeTestSecret,
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)
	return billing.WebhookRequest{Header: header, Body: signed.Payload}
}

func TestNewStripeProvider(t *testing.T) {
	t.Parallel()

	_, err := billing.NewStripeProvider(billing.StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, billing.ErrMissingAPIKey)

	_, err = billing.NewStripeProvider(billing.StripeConfig{SecretKey: "sk_test"})
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newStripeTestProvider(t)

	t.Run("missing signature header", func(t *testing.T) {
		t.Parallel()

		_, err := p.ParseWebhook(context.Background(), billing.WebhookRequest{Header: http.Header{}, Body: []byte(`{}`)})
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{"id":"evt_1","type":"customer.subscription.created","data":{"object":{}}}`)
		req.Body = []byte(`{"id":"evt_2","type":"customer.subscription.created","data":{"object":{}}}`)

		_, err := p.ParseWebhook(context.Background(), req)
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("subscription event", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{
			"id": "evt_sub",
			"object": "event",
			"type": "customer.subscription.updated",
			"created": 1767225600,
			"data": {"object": {
				"id": "sub_1",
				"object": "subscription",
				"customer": "cus_1",
				"status": "trialing",
				"trial_end": 1768435200,
				"billing_cycle_anchor": 1768435200,
				"metadata": {"org": "acme"},
				"items": {"data": [{"quantity": 3, "price": {"id": "price_pro_m"}}]}
			}}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "evt_sub", event.ID)
		assert.Equal(t, billing.EventSubscriptionUpdated, event.Type)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.OccurredAt)

		data, ok := event.Data.(*billing.SubscriptionEventData)
		require.True(t, ok)
		assert.Equal(t, "sub_1", data.ProviderID)
		assert.Equal(t, "cus_1", data.CustomerProviderID)
		assert.Equal(t, "price_pro_m", data.PriceProviderID)
		assert.Equal(t, int64(3), data.Quantity)
		assert.True(t, data.IsTrial())
		require.NotNil(t, data.TrialEndsAt)
		assert.Equal(t, time.Unix(1768435200, 0).UTC(), *data.TrialEndsAt)
		assert.Nil(t, data.CanceledAt)
		assert.Equal(t, "acme", data.Metadata["org"])
	})

	t.Run("invoice event with expanded customer", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{
			"id": "evt_inv",
			"type": "invoice.payment_failed",
			"data": {"object": {
				"id": "in_1",
				"customer": {"id": "cus_1", "object": "customer"},
				"amount_due": 2900,
				"amount_paid": 0,
				"currency": "usd",
				"status": "open",
				"hosted_invoice_url": "https://invoice.test/in_1",
				"parent": {"subscription_details": {"subscription": "sub_1"}}
			}}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		data, ok := event.Data.(*billing.InvoiceEventData)
		require.True(t, ok)
		assert.Equal(t, "cus_1", data.CustomerProviderID)
		assert.Equal(t, "sub_1", data.SubscriptionProviderID)
		assert.Equal(t, int64(2900), data.AmountDue)
		assert.Equal(t, "https://invoice.test/in_1", data.HostedInvoiceURL)
	})

	t.Run("customer event", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{
			"id": "evt_cus",
			"type": "customer.updated",
			"data": {"object": {"id": "cus_1", "name": "Acme", "email": "a@acme.test", "metadata": {}}}
		}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		data, ok := event.Data.(*billing.CustomerEventData)
		require.True(t, ok)
		assert.Equal(t, "cus_1", data.ProviderID)
		assert.Equal(t, "a@acme.test", data.Email)
	})

	t.Run("unhandled event type", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{"id":"evt_ch","type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, event)
	})

	t.Run("undecodable payload becomes an error event", func(t *testing.T) {
		t.Parallel()

		req := signedStripeRequest(`{"id":"evt_bad","type":"customer.subscription.created","data":{"object":{"id":"sub_1","items":"oops"}}}`)

		event, err := p.ParseWebhook(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, billing.EventError, event.Type)
		assert.Equal(t, "customer.subscription.created", event.ProviderEvent)
		data, ok := event.Data.(*billing.ErrorEventData)
		require.True(t, ok)
		assert.Contains(t, data.Message, "customer.subscription.created")
	})
}
