// Package billing keeps a local billing store consistent with a remote payment
// provider (Stripe or Paddle) across three flows: declarative catalog sync,
// customer and subscription lifecycle calls, and inbound webhook reconciliation.
//
// The provider owns money movement and subscription status. The local Store is
// what the application reads: customers, plans, prices and subscriptions keyed
// by internal ids and linked to the provider by provider ids.
//
// # Usage
//
//	import "github.com/dmitrymomot/paysync/pkg/billing"
//
//	provider, err := billing.NewStripeProvider(billing.StripeConfig{
//	    SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
//	    WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
//	})
//	if err != nil {
//	    // Handle configuration error
//	}
//
//	svc, err := billing.New(provider, pgstore.New(pool),
//	    billing.WithConfig(cfg),
//	    billing.WithLogger(log),
//	    billing.WithDeduplicator(billing.NewRedisDeduplicator(redisClient)),
//	)
//
//	// Push config/plans.yaml to the provider and the store.
//	report, err := svc.SyncFile(ctx, "")
//
//	// Onboard an organization; a trial or free subscription is attached
//	// according to the configured default plan.
//	customer, err := svc.CreateCustomer(ctx, billing.CreateCustomerInput{
//	    ID:    orgID,
//	    Name:  "Acme",
//	    Email: "billing@acme.test",
//	})
//
//	// Mount the webhook endpoint.
//	router.Method(http.MethodPost, "/billing/webhooks", svc.WebhookHandler())
//
// # Ordering
//
// Every write that touches both sides calls the provider first and the store
// second. A provider failure leaves the store untouched. A store failure after a
// provider success is logged and returned; the next webhook for the same entity
// repairs the local row.
//
// # Webhooks
//
// HandleWebhook verifies the delivery, optionally claims the event id with a
// Deduplicator, and applies the event through idempotent upserts keyed by
// provider id. Subscription events for one customer are serialized. A returned
// error means the delivery failed and the provider should retry it.
//
// # Entitlements
//
// Plans carry a feature list and per-resource limits. Entitlements resolves
// them from the customer's current subscription; ComparePlans reports what a
// plan change adds or removes.
//
// # Error Handling
//
// Lookups fail with ErrCustomerNotFound, ErrPlanNotFound, ErrPriceNotFound or
// ErrSubscriptionNotFound. ErrorCode maps any billing error to a stable code
// for API envelopes.
package billing
