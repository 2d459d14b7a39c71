package billing

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Interval is the billing frequency of a price.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Valid reports whether the interval is one the catalog supports.
func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// SubscriptionStatus mirrors the provider's subscription status.
type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPaused            SubscriptionStatus = "paused"
)

// ProrationBehavior controls how the provider bills plan changes mid-cycle.
type ProrationBehavior string

const (
	ProrationCreate ProrationBehavior = "create_prorations"
	ProrationNone   ProrationBehavior = "none"
	ProrationAlways ProrationBehavior = "always_invoice"
)

// Unlimited marks a plan limit without a ceiling.
const Unlimited int64 = -1

// Customer is a billable party, one per organization.
type Customer struct {
	ID         uuid.UUID
	ProviderID string
	Name       string
	Email      string
	Metadata   map[string]string

	// Subscription is the most recent subscription, populated by read paths only.
	Subscription *Subscription

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlanMetadata is the structured feature and limit list attached to a plan.
type PlanMetadata struct {
	Features []string         `json:"features,omitempty" yaml:"features,omitempty"`
	Limits   map[string]int64 `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// Plan is a named offering identified by its immutable slug.
type Plan struct {
	ID          uuid.UUID
	ProviderID  string
	Slug        string
	Name        string
	Description string
	Metadata    PlanMetadata
	Prices      []Price
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriceForCycle returns the first price billed on the given interval,
// preferring single-interval prices over multi-interval ones.
func (p *Plan) PriceForCycle(cycle Interval) (*Price, bool) {
	var fallback *Price
	for i := range p.Prices {
		price := &p.Prices[i]
		if price.Interval != cycle {
			continue
		}
		if price.count() == 1 {
			return price, true
		}
		if fallback == nil {
			fallback = price
		}
	}
	return fallback, fallback != nil
}

// Price is one billing variant of a plan.
type Price struct {
	ID            uuid.UUID
	ProviderID    string
	Slug          string
	PlanID        uuid.UUID
	Amount        int64 // minor currency units
	Currency      string
	Interval      Interval
	IntervalCount int
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceKey is the structural identity of a price across catalog sync runs.
type PriceKey struct {
	Amount        int64
	Currency      string
	Interval      Interval
	IntervalCount int
}

// MatchKey returns the price's structural identity.
func (p Price) MatchKey() PriceKey {
	return newPriceKey(p.Amount, p.Currency, p.Interval, p.IntervalCount)
}

func (p Price) count() int {
	if p.IntervalCount < 1 {
		return 1
	}
	return p.IntervalCount
}

func newPriceKey(amount int64, currency string, interval Interval, count int) PriceKey {
	if count < 1 {
		count = 1
	}
	return PriceKey{
		Amount:        amount,
		Currency:      strings.ToLower(strings.TrimSpace(currency)),
		Interval:      interval,
		IntervalCount: count,
	}
}

// Subscription binds a customer to a price.
type Subscription struct {
	ID                 uuid.UUID
	ProviderID         string
	CustomerID         uuid.UUID
	PriceID            uuid.UUID
	Quantity           int64
	Status             SubscriptionStatus
	TrialDays          int
	TrialEndsAt        *time.Time
	BillingCycleAnchor *time.Time
	ProrationBehavior  ProrationBehavior
	Metadata           map[string]string
	CanceledAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsCurrent reports whether the subscription still grants access.
func (s *Subscription) IsCurrent() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing || s.Status == StatusPastDue
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a given time.
// Returns 0 if not in trial or trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEndsAt == nil {
		return 0
	}

	remaining := s.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}

	days := remaining.Hours() / 24
	return int(days + 0.5)
}

func (c *Customer) clone() *Customer {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	cp.Subscription = c.Subscription.clone()
	return &cp
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Metadata = p.Metadata.clone()
	cp.Prices = make([]Price, len(p.Prices))
	for i, price := range p.Prices {
		cp.Prices[i] = *price.clone()
	}
	return &cp
}

func (m PlanMetadata) clone() PlanMetadata {
	return PlanMetadata{
		Features: slices.Clone(m.Features),
		Limits:   maps.Clone(m.Limits),
	}
}

func (p *Price) clone() *Price {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Metadata = maps.Clone(p.Metadata)
	return &cp
}

func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Metadata = maps.Clone(s.Metadata)
	cp.TrialEndsAt = clonePtr(s.TrialEndsAt)
	cp.BillingCycleAnchor = clonePtr(s.BillingCycleAnchor)
	cp.CanceledAt = clonePtr(s.CanceledAt)
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
