package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider is the thin adapter over the remote payment platform.
// The platform is the system of record for money movement and subscription status,
// so every method either returns a provider-issued identifier or fails.
//
// Implementations should use official provider SDKs and keep provider-specific
// quirks internal (e.g., Stripe products vs. Paddle products, immutable price amounts).
type Provider interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	UpdateCustomer(ctx context.Context, providerID string, params CustomerParams) error
	DeleteCustomer(ctx context.Context, providerID string) error

	CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, providerID string, params SubscriptionParams) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, providerID string) (*ProviderSubscription, error)

	// CreateCheckoutSession returns a hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	// CreateBillingPortal returns a pre-authenticated customer portal URL.
	CreateBillingPortal(ctx context.Context, customerProviderID, returnURL string) (string, error)

	CreatePlan(ctx context.Context, params PlanParams) (string, error)
	UpdatePlan(ctx context.Context, providerID string, params PlanParams) error
	CreatePrice(ctx context.Context, params PriceParams) (string, error)
	UpdatePrice(ctx context.Context, providerID string, params PriceParams) error

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns nil event and nil error for event types the engine does not consume.
	ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error)
}

// CustomerParams carries the customer profile pushed to the provider.
type CustomerParams struct {
	Name     string
	Email    string
	Metadata map[string]string
}

// SubscriptionParams describes a subscription create or update.
// Zero values mean "leave as is" on update.
type SubscriptionParams struct {
	CustomerProviderID string
	PriceProviderID    string
	Quantity           int64
	TrialDays          int
	BillingCycleAnchor *time.Time
	ProrationBehavior  ProrationBehavior
	Metadata           map[string]string
}

// ProviderSubscription is the provider's view of a subscription after a write.
type ProviderSubscription struct {
	ID          string
	Status      SubscriptionStatus
	TrialEndsAt *time.Time
	CanceledAt  *time.Time
}

// CheckoutParams contains data needed to create a hosted checkout session.
type CheckoutParams struct {
	CustomerProviderID string
	PriceProviderID    string
	Quantity           int64
	TrialDays          int
	SuccessURL         string
	CancelURL          string
	// UpgradeFrom lists provider ids of the customer's current subscriptions.
	UpgradeFrom []string
	Metadata    map[string]string
}

// PlanParams is the provider-side representation of a plan.
type PlanParams struct {
	Slug        string
	Name        string
	Description string
	Metadata    map[string]string
}

// PriceParams is the provider-side representation of a price.
type PriceParams struct {
	PlanProviderID string
	Slug           string
	Amount         int64
	Currency       string
	Interval       Interval
	IntervalCount  int
	Metadata       map[string]string
}

// WebhookRequest is the raw inbound webhook as delivered by the provider.
type WebhookRequest struct {
	Header http.Header
	Body   []byte
}
