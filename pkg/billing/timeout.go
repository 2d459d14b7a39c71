package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}

func withTimeoutErr(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := withTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// timeoutProvider bounds every provider call with a fixed deadline.
type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

func (p timeoutProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.next.CreateCustomer(ctx, params)
	})
}

func (p timeoutProvider) UpdateCustomer(ctx context.Context, providerID string, params CustomerParams) error {
	return withTimeoutErr(ctx, p.timeout, func(ctx context.Context) error {
		return p.next.UpdateCustomer(ctx, providerID, params)
	})
}

func (p timeoutProvider) DeleteCustomer(ctx context.Context, providerID string) error {
	return withTimeoutErr(ctx, p.timeout, func(ctx context.Context) error {
		return p.next.DeleteCustomer(ctx, providerID)
	})
}

func (p timeoutProvider) CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (*ProviderSubscription, error) {
		return p.next.CreateSubscription(ctx, params)
	})
}

func (p timeoutProvider) UpdateSubscription(ctx context.Context, providerID string, params SubscriptionParams) (*ProviderSubscription, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (*ProviderSubscription, error) {
		return p.next.UpdateSubscription(ctx, providerID, params)
	})
}

func (p timeoutProvider) CancelSubscription(ctx context.Context, providerID string) (*ProviderSubscription, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (*ProviderSubscription, error) {
		return p.next.CancelSubscription(ctx, providerID)
	})
}

func (p timeoutProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.next.CreateCheckoutSession(ctx, params)
	})
}

func (p timeoutProvider) CreateBillingPortal(ctx context.Context, customerProviderID, returnURL string) (string, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.next.CreateBillingPortal(ctx, customerProviderID, returnURL)
	})
}

func (p timeoutProvider) CreatePlan(ctx context.Context, params PlanParams) (string, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.next.CreatePlan(ctx, params)
	})
}

func (p timeoutProvider) UpdatePlan(ctx context.Context, providerID string, params PlanParams) error {
	return withTimeoutErr(ctx, p.timeout, func(ctx context.Context) error {
		return p.next.UpdatePlan(ctx, providerID, params)
	})
}

func (p timeoutProvider) CreatePrice(ctx context.Context, params PriceParams) (string, error) {
	return withTimeout(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.next.CreatePrice(ctx, params)
	})
}

func (p timeoutProvider) UpdatePrice(ctx context.Context, providerID string, params PriceParams) error {
	return withTimeoutErr(ctx, p.timeout, func(ctx context.Context) error {
		return p.next.UpdatePrice(ctx, providerID, params)
	})
}

// ParseWebhook is local signature verification and is not bounded.
func (p timeoutProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	return p.next.ParseWebhook(ctx, req)
}

// timeoutStore bounds every store call with a fixed deadline.
type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (s timeoutStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.CreateCustomer(ctx, customer) })
}

func (s timeoutStore) UpdateCustomer(ctx context.Context, customer *Customer) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.UpdateCustomer(ctx, customer) })
}

func (s timeoutStore) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.DeleteCustomer(ctx, id) })
}

func (s timeoutStore) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Customer, error) { return s.next.GetCustomer(ctx, id) })
}

func (s timeoutStore) GetCustomerByProviderID(ctx context.Context, providerID string) (*Customer, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Customer, error) {
		return s.next.GetCustomerByProviderID(ctx, providerID)
	})
}

func (s timeoutStore) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) ([]Customer, error) { return s.next.ListCustomers(ctx, filter) })
}

func (s timeoutStore) CreatePlan(ctx context.Context, plan *Plan) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.CreatePlan(ctx, plan) })
}

func (s timeoutStore) UpdatePlan(ctx context.Context, plan *Plan) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.UpdatePlan(ctx, plan) })
}

func (s timeoutStore) GetPlanBySlug(ctx context.Context, slug string) (*Plan, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Plan, error) { return s.next.GetPlanBySlug(ctx, slug) })
}

func (s timeoutStore) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Plan, error) { return s.next.GetPlan(ctx, id) })
}

func (s timeoutStore) ListPlans(ctx context.Context) ([]Plan, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) ([]Plan, error) { return s.next.ListPlans(ctx) })
}

func (s timeoutStore) CreatePrice(ctx context.Context, price *Price) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.CreatePrice(ctx, price) })
}

func (s timeoutStore) UpdatePrice(ctx context.Context, price *Price) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.UpdatePrice(ctx, price) })
}

func (s timeoutStore) GetPrice(ctx context.Context, id uuid.UUID) (*Price, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Price, error) { return s.next.GetPrice(ctx, id) })
}

func (s timeoutStore) GetPriceByProviderID(ctx context.Context, providerID string) (*Price, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Price, error) {
		return s.next.GetPriceByProviderID(ctx, providerID)
	})
}

func (s timeoutStore) ListPrices(ctx context.Context, filter PriceFilter) ([]Price, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) ([]Price, error) { return s.next.ListPrices(ctx, filter) })
}

func (s timeoutStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.CreateSubscription(ctx, sub) })
}

func (s timeoutStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	return withTimeoutErr(ctx, s.timeout, func(ctx context.Context) error { return s.next.UpdateSubscription(ctx, sub) })
}

func (s timeoutStore) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Subscription, error) { return s.next.GetSubscription(ctx, id) })
}

func (s timeoutStore) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*Subscription, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*Subscription, error) {
		return s.next.GetSubscriptionByProviderID(ctx, providerID)
	})
}

func (s timeoutStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) ([]Subscription, error) {
		return s.next.ListSubscriptions(ctx, filter)
	})
}
