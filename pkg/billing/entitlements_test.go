package billing_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paysync/pkg/billing"
)

func TestService_Entitlements(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	cat := seedCatalog(t, store)
	customer := seedCustomer(t, store, "cus_1")
	seedSubscription(t, store, customer, cat.ProYearly, "sub_1")
	svc := newTestService(t, &mockProvider{}, store)

	ent, err := svc.Entitlements(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", ent.Plan.Slug)
	assert.Equal(t, "sub_1", ent.Subscription.ProviderID)

	assert.True(t, ent.HasFeature("sso"))
	assert.False(t, ent.HasFeature("white_label"))
	require.NoError(t, ent.RequireFeature("audit_log"))
	assert.ErrorIs(t, ent.RequireFeature("white_label"), billing.ErrFeatureDisabled)

	limit, ok := ent.Limit("projects")
	require.True(t, ok)
	assert.Equal(t, int64(50), limit)

	require.NoError(t, ent.CanCreate("projects", 49))
	assert.ErrorIs(t, ent.CanCreate("projects", 50), billing.ErrLimitExceeded)
	assert.Equal(t, billing.CodeLimitExceeded, billing.ErrorCode(ent.CanCreate("projects", 50)))
	require.NoError(t, ent.CanCreate("members", 1_000_000))
	assert.ErrorIs(t, ent.CanCreate("storage", 0), billing.ErrInvalidResource)

	assert.Equal(t, 50, ent.UsagePercentage("projects", 25))
	assert.Equal(t, 100, ent.UsagePercentage("projects", 80))
	assert.Equal(t, 0, ent.UsagePercentage("members", 10))
	assert.Equal(t, 0, ent.UsagePercentage("storage", 10))

	_, err = svc.Entitlements(context.Background(), uuid.New())
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestEntitlements_NilPlan(t *testing.T) {
	t.Parallel()

	var ent *billing.Entitlements
	assert.False(t, ent.HasFeature("api"))
	_, ok := ent.Limit("projects")
	assert.False(t, ok)
}

func TestComparePlans(t *testing.T) {
	t.Parallel()

	free := &billing.Plan{Metadata: billing.PlanMetadata{
		Features: []string{"api"},
		Limits:   map[string]int64{"projects": 3, "members": 1, "webhooks": 2},
	}}
	pro := &billing.Plan{Metadata: billing.PlanMetadata{
		Features: []string{"api", "sso"},
		Limits:   map[string]int64{"projects": 50, "members": billing.Unlimited},
	}}

	t.Run("upgrade", func(t *testing.T) {
		t.Parallel()

		c := billing.ComparePlans(free, pro)
		require.NotNil(t, c)
		assert.Equal(t, []string{"sso"}, c.NewFeatures)
		assert.Empty(t, c.LostFeatures)
		assert.Equal(t, billing.LimitChange{From: 3, To: 50}, c.IncreasedLimits["projects"])
		assert.Equal(t, billing.LimitChange{From: 1, To: billing.Unlimited}, c.IncreasedLimits["members"])
		assert.Equal(t, billing.LimitChange{From: 2, To: 0}, c.DecreasedLimits["webhooks"])
		assert.True(t, c.HasDecreases())
	})

	t.Run("downgrade", func(t *testing.T) {
		t.Parallel()

		c := billing.ComparePlans(pro, free)
		require.NotNil(t, c)
		assert.Equal(t, []string{"sso"}, c.LostFeatures)
		assert.Equal(t, billing.LimitChange{From: billing.Unlimited, To: 1}, c.DecreasedLimits["members"])
		assert.Equal(t, billing.LimitChange{From: 50, To: 3}, c.DecreasedLimits["projects"])
		assert.True(t, c.HasDecreases())
	})

	t.Run("same plan", func(t *testing.T) {
		t.Parallel()

		c := billing.ComparePlans(pro, pro)
		assert.False(t, c.HasDecreases())
		assert.Empty(t, c.NewFeatures)
	})

	t.Run("nil plan", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, billing.ComparePlans(nil, pro))
	})
}
