package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence interface for local billing entities.
// It is the only source of truth the rest of the application reads.
// Lookups of missing rows must return the matching Err*NotFound sentinel.
type Store interface {
	CreateCustomer(ctx context.Context, customer *Customer) error
	UpdateCustomer(ctx context.Context, customer *Customer) error
	DeleteCustomer(ctx context.Context, id uuid.UUID) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	GetCustomerByProviderID(ctx context.Context, providerID string) (*Customer, error)
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error)

	CreatePlan(ctx context.Context, plan *Plan) error
	UpdatePlan(ctx context.Context, plan *Plan) error
	// GetPlanBySlug returns the plan with its prices populated.
	GetPlanBySlug(ctx context.Context, slug string) (*Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	CreatePrice(ctx context.Context, price *Price) error
	UpdatePrice(ctx context.Context, price *Price) error
	GetPrice(ctx context.Context, id uuid.UUID) (*Price, error)
	GetPriceByProviderID(ctx context.Context, providerID string) (*Price, error)
	ListPrices(ctx context.Context, filter PriceFilter) ([]Price, error)

	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByProviderID(ctx context.Context, providerID string) (*Subscription, error)
	// ListSubscriptions returns matches ordered by creation time, newest first.
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)
}

// CustomerFilter narrows ListCustomers. Empty fields match everything.
type CustomerFilter struct {
	Email string
	Limit int
}

// PriceFilter narrows ListPrices. Zero fields match everything.
type PriceFilter struct {
	PlanID   uuid.UUID
	Interval Interval
}

// SubscriptionFilter narrows ListSubscriptions. Zero fields match everything.
type SubscriptionFilter struct {
	CustomerID uuid.UUID
	Statuses   []SubscriptionStatus
	Limit      int
}

// CurrentStatuses are the statuses that describe a live subscription.
var CurrentStatuses = []SubscriptionStatus{StatusActive, StatusTrialing, StatusPastDue}
