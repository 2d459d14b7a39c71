package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paysync/pkg/billing"
)

// deliver queues one parsed event and runs it through the webhook pipeline.
func deliver(t *testing.T, svc *billing.Service, provider *mockProvider, event *billing.WebhookEvent) (*billing.WebhookResponse, error) {
	t.Helper()
	provider.On("ParseWebhook", mock.Anything, mock.Anything).Return(event, nil).Once()
	return svc.HandleWebhook(context.Background(), billing.WebhookRequest{Body: []byte(`{}`)})
}

func subscriptionEvent(id string, typ billing.EventType, data *billing.SubscriptionEventData) *billing.WebhookEvent {
	return &billing.WebhookEvent{
		ID:            id,
		Type:          typ,
		ProviderEvent: string(typ),
		OccurredAt:    time.Now().UTC(),
		Data:          data,
	}
}

type recordedCallbacks struct {
	created  []*billing.Subscription
	updated  []*billing.Subscription
	canceled []*billing.Subscription
	deleted  []*billing.Subscription
	trial    []*billing.SubscriptionEventData
	paid     []*billing.InvoiceEventData
	failed   []*billing.InvoiceEventData
	customer []*billing.Customer
	signedUp []*billing.Customer
	received []*billing.WebhookEvent
}

func (r *recordedCallbacks) callbacks() billing.Callbacks {
	return billing.Callbacks{
		OnSubscriptionCreated: func(_ context.Context, s *billing.Subscription) error {
			r.created = append(r.created, s)
			return nil
		},
		OnSubscriptionUpdated: func(_ context.Context, s *billing.Subscription) error {
			r.updated = append(r.updated, s)
			return nil
		},
		OnSubscriptionCanceled: func(_ context.Context, s *billing.Subscription) error {
			r.canceled = append(r.canceled, s)
			return nil
		},
		OnSubscriptionDeleted: func(_ context.Context, s *billing.Subscription) error {
			r.deleted = append(r.deleted, s)
			return nil
		},
		OnSubscriptionTrialWillEnd: func(_ context.Context, d *billing.SubscriptionEventData) error {
			r.trial = append(r.trial, d)
			return nil
		},
		OnInvoicePaymentSucceeded: func(_ context.Context, d *billing.InvoiceEventData) error {
			r.paid = append(r.paid, d)
			return nil
		},
		OnInvoicePaymentFailed: func(_ context.Context, d *billing.InvoiceEventData) error {
			r.failed = append(r.failed, d)
			return nil
		},
		OnCustomerCreated: func(_ context.Context, c *billing.Customer) error {
			r.signedUp = append(r.signedUp, c)
			return nil
		},
		OnCustomerUpdated: func(_ context.Context, c *billing.Customer) error {
			r.customer = append(r.customer, c)
			return nil
		},
		OnWebhookReceived: func(_ context.Context, e *billing.WebhookEvent) error {
			r.received = append(r.received, e)
			return nil
		},
	}
}

type webhookFixture struct {
	svc      *billing.Service
	provider *mockProvider
	store    billing.Store
	catalog  testCatalog
	customer *billing.Customer
	hooks    *recordedCallbacks
}

func newWebhookFixture(t *testing.T, opts ...billing.Option) webhookFixture {
	t.Helper()

	store := billing.NewMemoryStore()
	cat := seedCatalog(t, store)
	customer := seedCustomer(t, store, "cus_1")
	provider := &mockProvider{}
	hooks := &recordedCallbacks{}

	opts = append([]billing.Option{billing.WithCallbacks(hooks.callbacks())}, opts...)
	return webhookFixture{
		svc:      newTestService(t, provider, store, opts...),
		provider: provider,
		store:    store,
		catalog:  cat,
		customer: customer,
		hooks:    hooks,
	}
}

func TestWebhook_SubscriptionCreated(t *testing.T) {
	t.Parallel()

	t.Run("creates local row and fires callback once across redeliveries", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		event := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_m",
			Quantity:           2,
			Status:             billing.StatusActive,
			Metadata:           map[string]string{"source": "checkout"},
		})

		resp, err := deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "event processed", resp.Message)

		sub, err := f.store.GetSubscriptionByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, f.customer.ID, sub.CustomerID)
		assert.Equal(t, f.catalog.ProMonthly.ID, sub.PriceID)
		assert.Equal(t, int64(2), sub.Quantity)
		assert.Equal(t, "checkout", sub.Metadata["source"])

		_, err = deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)

		subs, err := f.store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{CustomerID: f.customer.ID})
		require.NoError(t, err)
		assert.Len(t, subs, 1)
		assert.Len(t, f.hooks.created, 1)
		assert.Len(t, f.hooks.received, 2)
	})

	t.Run("unknown customer fails the delivery", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionCreated, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_unknown",
			PriceProviderID:    "price_pro_m",
		}))
		assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
		assert.Empty(t, f.hooks.received)
	})

	t.Run("unknown price fails the delivery", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionCreated, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_unknown",
		}))
		assert.ErrorIs(t, err, billing.ErrPriceNotFound)
	})

	t.Run("trialing snapshot derives trial days", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		trialEnd := time.Now().Add(7 * 24 * time.Hour).UTC()
		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionCreated, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_m",
			Status:             billing.StatusTrialing,
			TrialEndsAt:        &trialEnd,
		}))
		require.NoError(t, err)

		sub, err := f.store.GetSubscriptionByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.True(t, sub.IsTrialing())
		assert.Equal(t, 7, sub.TrialDays)
		assert.Equal(t, 7, sub.TrialDaysRemainingAt(time.Now()))
	})
}

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	t.Parallel()

	t.Run("applies provider snapshot to the existing row", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		existing := seedSubscription(t, f.store, f.customer, f.catalog.ProMonthly, "sub_1")

		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_y",
			Quantity:           1,
			Status:             billing.StatusPastDue,
		}))
		require.NoError(t, err)

		sub, err := f.store.GetSubscription(context.Background(), existing.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, sub.Status)
		assert.Equal(t, f.catalog.ProYearly.ID, sub.PriceID)
		assert.True(t, sub.IsCurrent())
		assert.Len(t, f.hooks.updated, 1)
		assert.Empty(t, f.hooks.created)
	})

	t.Run("self-heals when the customer has no subscriptions", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		data := &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_m",
			Status:             billing.StatusActive,
		}

		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, data))
		require.NoError(t, err)
		assert.Len(t, f.hooks.created, 1)
		assert.Len(t, f.hooks.updated, 1)

		healed, err := f.store.GetSubscriptionByProviderID(context.Background(), "sub_1")
		require.NoError(t, err)

		// The late created event converges on the healed row.
		_, err = deliver(t, f.svc, f.provider, subscriptionEvent("evt_0", billing.EventSubscriptionCreated, data))
		require.NoError(t, err)

		subs, err := f.store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{CustomerID: f.customer.ID})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, healed.ID, subs[0].ID)
		assert.Len(t, f.hooks.created, 1)
	})

	t.Run("redelivered update converges on the healed row", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		data := &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_m",
			Quantity:           3,
			Status:             billing.StatusActive,
		}
		event := subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, data)

		_, err := deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)
		_, err = deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)

		subs, err := f.store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{CustomerID: f.customer.ID})
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, "sub_1", subs[0].ProviderID)
		assert.Equal(t, int64(3), subs[0].Quantity)
		assert.Len(t, f.hooks.created, 1)
		assert.Len(t, f.hooks.updated, 2)
	})

	t.Run("missing row with subscription history is retried", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		seedSubscription(t, f.store, f.customer, f.catalog.FreeMonthly, "sub_old")

		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, &billing.SubscriptionEventData{
			ProviderID:         "sub_new",
			CustomerProviderID: "cus_1",
			PriceProviderID:    "price_pro_m",
		}))
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		_, err = f.store.GetSubscriptionByProviderID(context.Background(), "sub_new")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	t.Parallel()

	t.Run("unknown subscription fails the delivery", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionDeleted, &billing.SubscriptionEventData{
			ProviderID:         "sub_missing",
			CustomerProviderID: "cus_1",
		}))
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("marks canceled and fires canceled then deleted", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		existing := seedSubscription(t, f.store, f.customer, f.catalog.ProMonthly, "sub_1")
		canceledAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionDeleted, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
			CanceledAt:         &canceledAt,
		}))
		require.NoError(t, err)

		sub, err := f.store.GetSubscription(context.Background(), existing.ID)
		require.NoError(t, err)
		assert.True(t, sub.IsCanceled())
		require.NotNil(t, sub.CanceledAt)
		assert.True(t, canceledAt.Equal(*sub.CanceledAt))
		assert.Len(t, f.hooks.canceled, 1)
		assert.Len(t, f.hooks.deleted, 1)
	})
}

func TestWebhook_PassThroughEvents(t *testing.T) {
	t.Parallel()

	t.Run("trial will end", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, subscriptionEvent("evt_1", billing.EventSubscriptionTrialWillEnd, &billing.SubscriptionEventData{
			ProviderID:         "sub_1",
			CustomerProviderID: "cus_1",
		}))
		require.NoError(t, err)
		require.Len(t, f.hooks.trial, 1)
		assert.Equal(t, "sub_1", f.hooks.trial[0].ProviderID)
	})

	t.Run("invoice payments", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		invoice := &billing.InvoiceEventData{ProviderID: "in_1", CustomerProviderID: "cus_1", AmountDue: 2900, Currency: "usd"}

		_, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{ID: "evt_1", Type: billing.EventInvoicePaymentFailed, Data: invoice})
		require.NoError(t, err)
		_, err = deliver(t, f.svc, f.provider, &billing.WebhookEvent{ID: "evt_2", Type: billing.EventInvoicePaymentSucceeded, Data: invoice})
		require.NoError(t, err)

		assert.Len(t, f.hooks.failed, 1)
		assert.Len(t, f.hooks.paid, 1)
	})

	t.Run("invoice without callback is acknowledged", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		provider := &mockProvider{}
		svc := newTestService(t, provider, store)

		resp, err := deliver(t, svc, provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventInvoicePaymentSucceeded,
			Data: &billing.InvoiceEventData{ProviderID: "in_1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("callback error fails the delivery", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t, billing.WithCallbacks(billing.Callbacks{
			OnInvoicePaymentFailed: func(context.Context, *billing.InvoiceEventData) error {
				return errors.New("mailer down")
			},
		}))

		_, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventInvoicePaymentFailed,
			Data: &billing.InvoiceEventData{ProviderID: "in_1"},
		})
		assert.Error(t, err)
		// Merged callbacks run in registration order.
		assert.Len(t, f.hooks.failed, 1)
	})
}

func TestWebhook_CustomerUpdated(t *testing.T) {
	t.Parallel()

	t.Run("syncs profile of a known customer", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventCustomerUpdated,
			Data: &billing.CustomerEventData{ProviderID: "cus_1", Email: "finance@acme.test"},
		})
		require.NoError(t, err)

		c, err := f.store.GetCustomer(context.Background(), f.customer.ID)
		require.NoError(t, err)
		assert.Equal(t, "finance@acme.test", c.Email)
		assert.Equal(t, "Acme", c.Name)
		assert.Len(t, f.hooks.customer, 1)
	})

	t.Run("creates unknown customer with the onboarding id", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		id := uuid.New()
		event := &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventCustomerCreated,
			Data: &billing.CustomerEventData{
				ProviderID: "cus_new",
				Name:       "Other",
				Email:      "owner@other.test",
				Metadata:   map[string]string{"customer_id": id.String(), "org": "other"},
			},
		}
		_, err := deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)

		c, err := f.store.GetCustomerByProviderID(context.Background(), "cus_new")
		require.NoError(t, err)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, "Other", c.Name)
		assert.Equal(t, "owner@other.test", c.Email)
		assert.Equal(t, map[string]string{"org": "other"}, c.Metadata)
		require.Len(t, f.hooks.signedUp, 1)
		assert.Empty(t, f.hooks.customer)

		// Redelivery updates the same row.
		_, err = deliver(t, f.svc, f.provider, event)
		require.NoError(t, err)

		list, err := f.store.ListCustomers(context.Background(), billing.CustomerFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Len(t, f.hooks.signedUp, 1)
		assert.Len(t, f.hooks.customer, 1)
	})

	t.Run("creates unknown customer without onboarding metadata", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventCustomerUpdated,
			Data: &billing.CustomerEventData{ProviderID: "cus_new", Name: "Other"},
		})
		require.NoError(t, err)

		c, err := f.store.GetCustomerByProviderID(context.Background(), "cus_new")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.Equal(t, "Other", c.Name)
		assert.Len(t, f.hooks.signedUp, 1)
	})
}

func TestWebhook_ParseOutcomes(t *testing.T) {
	t.Parallel()

	t.Run("ignored event type", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		svc := newTestService(t, provider, billing.NewMemoryStore())
		provider.On("ParseWebhook", mock.Anything, mock.Anything).Return(nil, nil).Once()

		resp, err := svc.HandleWebhook(context.Background(), billing.WebhookRequest{Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, "event not processed", resp.Message)
	})

	t.Run("verification failure", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{}
		svc := newTestService(t, provider, billing.NewMemoryStore())
		provider.On("ParseWebhook", mock.Anything, mock.Anything).Return(nil, billing.ErrWebhookVerificationFailed).Once()

		_, err := svc.HandleWebhook(context.Background(), billing.WebhookRequest{Body: []byte(`{}`)})
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
		assert.Equal(t, billing.CodeWebhookVerification, billing.ErrorCode(err))
	})

	t.Run("error event is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		resp, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventError,
			Data: &billing.ErrorEventData{Message: "failed to decode"},
		})
		require.NoError(t, err)
		assert.Equal(t, "event processed", resp.Message)
		assert.Len(t, f.hooks.received, 1)
	})

	t.Run("payload of the wrong shape", func(t *testing.T) {
		t.Parallel()

		f := newWebhookFixture(t)
		_, err := deliver(t, f.svc, f.provider, &billing.WebhookEvent{
			ID:   "evt_1",
			Type: billing.EventSubscriptionCreated,
			Data: &billing.InvoiceEventData{ProviderID: "in_1"},
		})
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
	})
}

func TestWebhook_ConcurrentRedeliveries(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	seedCatalog(t, store)
	customer := seedCustomer(t, store, "cus_1")
	provider := &mockProvider{}
	svc := newTestService(t, provider, store)

	provider.On("ParseWebhook", mock.Anything, mock.Anything).Return(subscriptionEvent("evt_1", billing.EventSubscriptionCreated, &billing.SubscriptionEventData{
		ProviderID:         "sub_1",
		CustomerProviderID: "cus_1",
		PriceProviderID:    "price_pro_m",
	}), nil)

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleWebhook(context.Background(), billing.WebhookRequest{Body: []byte(`{}`)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	subs, err := store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{CustomerID: customer.ID})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
