package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paysync/pkg/billing"
)

// mockProvider is a mock implementation of billing.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) UpdateCustomer(ctx context.Context, providerID string, params billing.CustomerParams) error {
	args := m.Called(ctx, providerID, params)
	return args.Error(0)
}

func (m *mockProvider) DeleteCustomer(ctx context.Context, providerID string) error {
	args := m.Called(ctx, providerID)
	return args.Error(0)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, params billing.SubscriptionParams) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) UpdateSubscription(ctx context.Context, providerID string, params billing.SubscriptionParams) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, providerID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateBillingPortal(ctx context.Context, customerProviderID, returnURL string) (string, error) {
	args := m.Called(ctx, customerProviderID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreatePlan(ctx context.Context, params billing.PlanParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) UpdatePlan(ctx context.Context, providerID string, params billing.PlanParams) error {
	args := m.Called(ctx, providerID, params)
	return args.Error(0)
}

func (m *mockProvider) CreatePrice(ctx context.Context, params billing.PriceParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) UpdatePrice(ctx context.Context, providerID string, params billing.PriceParams) error {
	args := m.Called(ctx, providerID, params)
	return args.Error(0)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, req billing.WebhookRequest) (*billing.WebhookEvent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.WebhookEvent), args.Error(1)
}

// testCatalog holds the seeded plans and prices.
type testCatalog struct {
	Free        *billing.Plan
	Pro         *billing.Plan
	FreeMonthly *billing.Price
	ProMonthly  *billing.Price
	ProYearly   *billing.Price
}

// seedCatalog stores a free plan and a pro plan with monthly and yearly prices.
func seedCatalog(t *testing.T, store billing.Store) testCatalog {
	t.Helper()
	ctx := context.Background()

	free := &billing.Plan{
		ProviderID: "prod_free",
		Slug:       "free",
		Name:       "Free",
		Metadata: billing.PlanMetadata{
			Features: []string{"api"},
			Limits:   map[string]int64{"projects": 3, "members": 1},
		},
	}
	require.NoError(t, store.CreatePlan(ctx, free))

	pro := &billing.Plan{
		ProviderID: "prod_pro",
		Slug:       "pro",
		Name:       "Pro",
		Metadata: billing.PlanMetadata{
			Features: []string{"api", "sso", "audit_log"},
			Limits:   map[string]int64{"projects": 50, "members": billing.Unlimited},
		},
	}
	require.NoError(t, store.CreatePlan(ctx, pro))

	freeMonthly := &billing.Price{ProviderID: "price_free_m", PlanID: free.ID, Amount: 0, Currency: "usd", Interval: billing.IntervalMonth, IntervalCount: 1}
	proMonthly := &billing.Price{ProviderID: "price_pro_m", PlanID: pro.ID, Amount: 2900, Currency: "usd", Interval: billing.IntervalMonth, IntervalCount: 1}
	proYearly := &billing.Price{ProviderID: "price_pro_y", PlanID: pro.ID, Amount: 29000, Currency: "usd", Interval: billing.IntervalYear, IntervalCount: 1}
	for _, p := range []*billing.Price{freeMonthly, proMonthly, proYearly} {
		require.NoError(t, store.CreatePrice(ctx, p))
	}

	return testCatalog{
		Free:        free,
		Pro:         pro,
		FreeMonthly: freeMonthly,
		ProMonthly:  proMonthly,
		ProYearly:   proYearly,
	}
}

// seedCustomer stores a customer directly, bypassing the provider.
func seedCustomer(t *testing.T, store billing.Store, providerID string) *billing.Customer {
	t.Helper()
	c := &billing.Customer{
		ProviderID: providerID,
		Name:       "Acme",
		Email:      "billing@acme.test",
	}
	require.NoError(t, store.CreateCustomer(context.Background(), c))
	return c
}

// seedSubscription stores a subscription directly, bypassing the provider.
func seedSubscription(t *testing.T, store billing.Store, customer *billing.Customer, price *billing.Price, providerID string) *billing.Subscription {
	t.Helper()
	sub := &billing.Subscription{
		ProviderID: providerID,
		CustomerID: customer.ID,
		PriceID:    price.ID,
		Quantity:   1,
		Status:     billing.StatusActive,
	}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func newTestService(t *testing.T, provider billing.Provider, store billing.Store, opts ...billing.Option) *billing.Service {
	t.Helper()
	svc, err := billing.New(provider, store, opts...)
	require.NoError(t, err)
	return svc
}

func ptr[T any](v T) *T {
	return &v
}
