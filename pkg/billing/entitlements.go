package billing

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Entitlements is what a customer's current subscription grants.
type Entitlements struct {
	Plan         *Plan
	Subscription *Subscription
}

// HasFeature reports whether the plan includes the feature.
func (e *Entitlements) HasFeature(feature string) bool {
	if e == nil || e.Plan == nil {
		return false
	}
	return slices.Contains(e.Plan.Metadata.Features, feature)
}

// Limit returns the plan limit for a resource; Unlimited means no cap.
func (e *Entitlements) Limit(resource string) (int64, bool) {
	if e == nil || e.Plan == nil {
		return 0, false
	}
	limit, ok := e.Plan.Metadata.Limits[resource]
	return limit, ok
}

// CanCreate checks whether one more resource instance fits under the plan limit.
func (e *Entitlements) CanCreate(resource string, current int64) error {
	limit, ok := e.Limit(resource)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidResource, resource)
	}
	if limit == Unlimited {
		return nil
	}
	if current >= limit {
		return fmt.Errorf("%w: %s %d/%d", ErrLimitExceeded, resource, current, limit)
	}
	return nil
}

// RequireFeature returns ErrFeatureDisabled when the plan lacks the feature.
func (e *Entitlements) RequireFeature(feature string) error {
	if !e.HasFeature(feature) {
		return fmt.Errorf("%w: %s", ErrFeatureDisabled, feature)
	}
	return nil
}

// UsagePercentage returns current usage as a percentage of the limit, capped at 100.
// Unlimited and unknown resources report 0.
func (e *Entitlements) UsagePercentage(resource string, current int64) int {
	limit, ok := e.Limit(resource)
	if !ok || limit == Unlimited || limit <= 0 {
		return 0
	}
	return int(min(current*100/limit, 100))
}

// Entitlements resolves the plan behind the customer's current subscription.
func (s *Service) Entitlements(ctx context.Context, customerID uuid.UUID) (*Entitlements, error) {
	sub, err := s.ActiveSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}

	price, err := s.store.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription price: %w", err)
	}
	plan, err := s.store.GetPlan(ctx, price.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription plan: %w", err)
	}

	return &Entitlements{Plan: plan, Subscription: sub}, nil
}

// PlanComparison contains the differences between two plans.
// Used to validate downgrades and communicate changes to users.
type PlanComparison struct {
	NewFeatures     []string
	LostFeatures    []string
	IncreasedLimits map[string]LimitChange
	DecreasedLimits map[string]LimitChange
}

// LimitChange is a change of one resource limit. A missing limit is reported as 0.
type LimitChange struct {
	From int64
	To   int64
}

// HasDecreases reports whether switching plans takes anything away.
func (c *PlanComparison) HasDecreases() bool {
	return len(c.LostFeatures) > 0 || len(c.DecreasedLimits) > 0
}

// ComparePlans returns the differences between current and target plans.
func ComparePlans(current, target *Plan) *PlanComparison {
	if current == nil || target == nil {
		return nil
	}

	c := &PlanComparison{
		IncreasedLimits: make(map[string]LimitChange),
		DecreasedLimits: make(map[string]LimitChange),
	}

	for _, f := range target.Metadata.Features {
		if !slices.Contains(current.Metadata.Features, f) {
			c.NewFeatures = append(c.NewFeatures, f)
		}
	}
	for _, f := range current.Metadata.Features {
		if !slices.Contains(target.Metadata.Features, f) {
			c.LostFeatures = append(c.LostFeatures, f)
		}
	}

	for res, to := range target.Metadata.Limits {
		from := current.Metadata.Limits[res]
		if to == from {
			continue
		}
		change := LimitChange{From: from, To: to}
		// Unlimited to anything is a decrease.
		switch {
		case from == Unlimited:
			c.DecreasedLimits[res] = change
		case to == Unlimited, to > from:
			c.IncreasedLimits[res] = change
		default:
			c.DecreasedLimits[res] = change
		}
	}
	for res, from := range current.Metadata.Limits {
		if _, ok := target.Metadata.Limits[res]; !ok {
			c.DecreasedLimits[res] = LimitChange{From: from, To: 0}
		}
	}

	return c
}
