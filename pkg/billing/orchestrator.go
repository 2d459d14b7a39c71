package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paysync/pkg/logger"
)

// customerIDMetadataKey carries the internal customer id in provider metadata.
const customerIDMetadataKey = "customer_id"

// DemoDataSeeder populates a freshly created customer's workspace with sample data.
// Failures are logged and never fail customer creation.
type DemoDataSeeder func(ctx context.Context, customer *Customer) error

// CreateCustomerInput describes a new billable party.
// ID is optional; set it to reuse the organization's identifier.
type CreateCustomerInput struct {
	ID       uuid.UUID
	Name     string
	Email    string
	Metadata map[string]string
}

// UpdateCustomerInput carries profile changes. Nil fields are left unchanged.
type UpdateCustomerInput struct {
	Name     *string
	Email    *string
	Metadata map[string]string
}

// CreateSubscriptionInput describes a subscription to a plan's price for a billing cycle.
type CreateSubscriptionInput struct {
	CustomerID         uuid.UUID
	PlanSlug           string
	Cycle              Interval
	Quantity           int64
	TrialDays          int
	BillingCycleAnchor *time.Time
	ProrationBehavior  ProrationBehavior
	Metadata           map[string]string
}

// UpdateSubscriptionInput changes an existing subscription.
// An empty PlanSlug keeps the current plan; an empty Cycle keeps the current interval.
type UpdateSubscriptionInput struct {
	PlanSlug          string
	Cycle             Interval
	Quantity          int64
	ProrationBehavior ProrationBehavior
	Metadata          map[string]string
}

// CheckoutInput describes a hosted checkout request.
type CheckoutInput struct {
	CustomerID uuid.UUID
	PlanSlug   string
	Cycle      Interval
	Quantity   int64
	SuccessURL string
	CancelURL  string
}

// Orchestrator drives customer and subscription lifecycle flows.
// Every write touching both sides calls the provider first and the store second;
// a store failure after a successful provider call is logged and returned, not rolled back.
type Orchestrator struct {
	cfg       Config
	provider  Provider
	store     Store
	log       *slog.Logger
	callbacks Callbacks
	seeder    DemoDataSeeder
}

// CreateCustomer creates the provider-side customer, then the local record.
// With subscriptions enabled and a default plan configured it also attaches a
// trial subscription, or a free subscription when trials are off. That step is
// best-effort: its failure is logged and the customer is still returned.
func (o *Orchestrator) CreateCustomer(ctx context.Context, in CreateCustomerInput) (*Customer, error) {
	var defaultPlan *Plan
	if o.cfg.onboardingPlan() {
		plan, err := o.resolveDefaultPlan(ctx)
		if err != nil {
			return nil, err
		}
		defaultPlan = plan
	}

	providerID, err := o.provider.CreateCustomer(ctx, CustomerParams{
		Name:     in.Name,
		Email:    in.Email,
		Metadata: customerMetadata(in),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	customer := &Customer{
		ID:         in.ID,
		ProviderID: providerID,
		Name:       in.Name,
		Email:      in.Email,
		Metadata:   maps.Clone(in.Metadata),
	}
	if err := o.store.CreateCustomer(ctx, customer); err != nil {
		// The customer.created webhook may have stored the row first.
		var stored *Customer
		if errors.Is(err, ErrAlreadyExists) {
			if c, lookupErr := o.store.GetCustomerByProviderID(ctx, providerID); lookupErr == nil {
				stored = c
			}
		}
		if stored == nil {
			o.log.ErrorContext(ctx, "Customer created on provider but not stored locally",
				logger.Component("orchestrator"),
				slog.String("provider_customer_id", providerID),
				logger.Error(err),
			)
			return nil, fmt.Errorf("failed to save customer: %w", err)
		}
		customer = stored
	}

	if defaultPlan != nil {
		in := subscribeInput{Cycle: IntervalMonth, Quantity: 1}
		if o.cfg.trialActive() {
			in.TrialDays = o.cfg.TrialDays
		}
		sub, err := o.subscribe(ctx, customer, defaultPlan, in)
		if err != nil {
			o.log.ErrorContext(ctx, "Failed to create onboarding subscription",
				logger.Component("orchestrator"),
				logger.CustomerID(customer.ID),
				logger.PlanSlug(defaultPlan.Slug),
				logger.Error(err),
			)
		} else {
			customer.Subscription = sub
		}
	}

	if o.seeder != nil {
		if err := o.seeder(ctx, customer); err != nil {
			o.log.ErrorContext(ctx, "Failed to seed demo data",
				logger.Component("orchestrator"),
				logger.CustomerID(customer.ID),
				logger.Error(err),
			)
		}
	}

	o.notify(ctx, "customer_created", fire(ctx, o.callbacks.OnCustomerCreated, customer))
	return customer, nil
}

// ValidateDefaultPlan enforces the onboarding invariant: with trials disabled the
// default plan's monthly price must be free. It performs no provider calls.
func (o *Orchestrator) ValidateDefaultPlan(ctx context.Context) error {
	if !o.cfg.onboardingPlan() {
		return nil
	}
	_, err := o.resolveDefaultPlan(ctx)
	return err
}

func (o *Orchestrator) resolveDefaultPlan(ctx context.Context) (*Plan, error) {
	plan, err := o.store.GetPlanBySlug(ctx, o.cfg.DefaultPlanSlug)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: default plan %q", ErrPlanNotFound, o.cfg.DefaultPlanSlug)
		}
		return nil, fmt.Errorf("failed to load default plan: %w", err)
	}

	if o.cfg.trialActive() {
		return plan, nil
	}

	monthly, ok := plan.PriceForCycle(IntervalMonth)
	if !ok {
		return nil, errors.Join(ErrDefaultPlanNotFree,
			fmt.Errorf("%w: default plan %q has no monthly price", ErrPriceNotFound, plan.Slug))
	}
	if monthly.Amount > 0 {
		return nil, fmt.Errorf("%w: plan %q costs %d %s per month", ErrDefaultPlanNotFree, plan.Slug, monthly.Amount, monthly.Currency)
	}
	return plan, nil
}

// UpdateCustomer pushes profile changes to the provider, then to the store.
func (o *Orchestrator) UpdateCustomer(ctx context.Context, id uuid.UUID, in UpdateCustomerInput) (*Customer, error) {
	customer, err := o.getCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		customer.Name = *in.Name
	}
	if in.Email != nil {
		customer.Email = *in.Email
	}
	if in.Metadata != nil {
		customer.Metadata = maps.Clone(in.Metadata)
	}

	if err := o.provider.UpdateCustomer(ctx, customer.ProviderID, CustomerParams{
		Name:     customer.Name,
		Email:    customer.Email,
		Metadata: customer.Metadata,
	}); err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	if err := o.store.UpdateCustomer(ctx, customer); err != nil {
		o.logLocalWriteFailure(ctx, "update_customer", customer.ProviderID, err)
		return nil, fmt.Errorf("failed to save customer: %w", err)
	}

	o.notify(ctx, "customer_updated", fire(ctx, o.callbacks.OnCustomerUpdated, customer))
	return customer, nil
}

// DeleteCustomer removes the provider-side customer first, then the local record.
func (o *Orchestrator) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	customer, err := o.getCustomer(ctx, id)
	if err != nil {
		return err
	}

	if err := o.provider.DeleteCustomer(ctx, customer.ProviderID); err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}

	if err := o.store.DeleteCustomer(ctx, customer.ID); err != nil {
		o.logLocalWriteFailure(ctx, "delete_customer", customer.ProviderID, err)
		return fmt.Errorf("failed to delete stored customer: %w", err)
	}

	o.notify(ctx, "customer_deleted", fire(ctx, o.callbacks.OnCustomerDeleted, customer))
	return nil
}

// CreateSubscription subscribes a customer to the plan price matching the requested cycle.
func (o *Orchestrator) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*Subscription, error) {
	customer, err := o.getCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}

	plan, err := o.getPlan(ctx, in.PlanSlug)
	if err != nil {
		return nil, err
	}

	return o.subscribe(ctx, customer, plan, subscribeInput{
		Cycle:              in.Cycle,
		Quantity:           in.Quantity,
		TrialDays:          in.TrialDays,
		BillingCycleAnchor: in.BillingCycleAnchor,
		ProrationBehavior:  in.ProrationBehavior,
		Metadata:           in.Metadata,
	})
}

type subscribeInput struct {
	Cycle              Interval
	Quantity           int64
	TrialDays          int
	BillingCycleAnchor *time.Time
	ProrationBehavior  ProrationBehavior
	Metadata           map[string]string
}

func (o *Orchestrator) subscribe(ctx context.Context, customer *Customer, plan *Plan, in subscribeInput) (*Subscription, error) {
	price, err := subscribablePrice(plan, in.Cycle)
	if err != nil {
		return nil, err
	}

	quantity := max(in.Quantity, 1)
	ps, err := o.provider.CreateSubscription(ctx, SubscriptionParams{
		CustomerProviderID: customer.ProviderID,
		PriceProviderID:    price.ProviderID,
		Quantity:           quantity,
		TrialDays:          in.TrialDays,
		BillingCycleAnchor: in.BillingCycleAnchor,
		ProrationBehavior:  in.ProrationBehavior,
		Metadata:           in.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	sub := &Subscription{
		ProviderID:         ps.ID,
		CustomerID:         customer.ID,
		PriceID:            price.ID,
		Quantity:           quantity,
		Status:             statusOr(ps.Status, StatusActive),
		TrialDays:          in.TrialDays,
		TrialEndsAt:        ps.TrialEndsAt,
		BillingCycleAnchor: in.BillingCycleAnchor,
		ProrationBehavior:  in.ProrationBehavior,
		Metadata:           maps.Clone(in.Metadata),
	}
	if err := o.store.CreateSubscription(ctx, sub); err != nil {
		// The subscription webhook may have materialized the row already.
		if errors.Is(err, ErrAlreadyExists) {
			if existing, getErr := o.store.GetSubscriptionByProviderID(ctx, ps.ID); getErr == nil {
				return existing, nil
			}
		}
		o.logLocalWriteFailure(ctx, "create_subscription", ps.ID, err)
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	o.notify(ctx, "subscription_created", fire(ctx, o.callbacks.OnSubscriptionCreated, sub))
	return sub, nil
}

// UpdateSubscription changes plan, cycle, or quantity. The provider is updated first;
// if it rejects the change the local subscription is left untouched.
func (o *Orchestrator) UpdateSubscription(ctx context.Context, id uuid.UUID, in UpdateSubscriptionInput) (*Subscription, error) {
	sub, err := o.getSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	current, err := o.store.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription price: %w", err)
	}

	price := current
	if in.PlanSlug != "" || (in.Cycle != "" && in.Cycle != current.Interval) {
		var plan *Plan
		if in.PlanSlug != "" {
			plan, err = o.getPlan(ctx, in.PlanSlug)
		} else {
			plan, err = o.store.GetPlan(ctx, current.PlanID)
		}
		if err != nil {
			return nil, err
		}

		cycle := in.Cycle
		if cycle == "" {
			cycle = current.Interval
		}
		if price, err = subscribablePrice(plan, cycle); err != nil {
			return nil, err
		}
	}

	quantity := sub.Quantity
	if in.Quantity > 0 {
		quantity = in.Quantity
	}

	ps, err := o.provider.UpdateSubscription(ctx, sub.ProviderID, SubscriptionParams{
		PriceProviderID:   price.ProviderID,
		Quantity:          quantity,
		ProrationBehavior: in.ProrationBehavior,
		Metadata:          in.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	sub.PriceID = price.ID
	sub.Quantity = quantity
	if in.ProrationBehavior != "" {
		sub.ProrationBehavior = in.ProrationBehavior
	}
	if in.Metadata != nil {
		sub.Metadata = maps.Clone(in.Metadata)
	}
	if ps != nil {
		sub.Status = statusOr(ps.Status, sub.Status)
		if ps.TrialEndsAt != nil {
			sub.TrialEndsAt = ps.TrialEndsAt
		}
	}

	if err := o.store.UpdateSubscription(ctx, sub); err != nil {
		o.logLocalWriteFailure(ctx, "update_subscription", sub.ProviderID, err)
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	o.notify(ctx, "subscription_updated", fire(ctx, o.callbacks.OnSubscriptionUpdated, sub))
	return sub, nil
}

// CancelSubscription cancels on the provider, then records the provider-confirmed status locally.
func (o *Orchestrator) CancelSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := o.getSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	ps, err := o.provider.CancelSubscription(ctx, sub.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	now := time.Now().UTC()
	sub.Status = StatusCanceled
	sub.CanceledAt = &now
	if ps != nil {
		sub.Status = statusOr(ps.Status, StatusCanceled)
		if ps.CanceledAt != nil {
			sub.CanceledAt = ps.CanceledAt
		}
	}

	if err := o.store.UpdateSubscription(ctx, sub); err != nil {
		o.logLocalWriteFailure(ctx, "cancel_subscription", sub.ProviderID, err)
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	o.notify(ctx, "subscription_canceled", fire(ctx, o.callbacks.OnSubscriptionCanceled, sub))
	return sub, nil
}

// CreateCheckoutSession returns a hosted checkout URL for the plan price matching the cycle.
// Live subscriptions are passed to the provider as the upgrade hint.
func (o *Orchestrator) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error) {
	customer, err := o.getCustomer(ctx, in.CustomerID)
	if err != nil {
		return "", err
	}

	active, err := o.store.ListSubscriptions(ctx, SubscriptionFilter{
		CustomerID: customer.ID,
		Statuses:   []SubscriptionStatus{StatusActive, StatusTrialing},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list subscriptions: %w", err)
	}

	plan, err := o.getPlan(ctx, in.PlanSlug)
	if err != nil {
		return "", err
	}
	price, err := subscribablePrice(plan, in.Cycle)
	if err != nil {
		return "", err
	}

	upgradeFrom := make([]string, 0, len(active))
	for _, s := range active {
		if s.ProviderID != "" {
			upgradeFrom = append(upgradeFrom, s.ProviderID)
		}
	}

	params := CheckoutParams{
		CustomerProviderID: customer.ProviderID,
		PriceProviderID:    price.ProviderID,
		Quantity:           max(in.Quantity, 1),
		SuccessURL:         firstNonEmpty(in.SuccessURL, o.cfg.SuccessURL),
		CancelURL:          firstNonEmpty(in.CancelURL, o.cfg.CancelURL),
		UpgradeFrom:        upgradeFrom,
		Metadata: map[string]string{
			customerIDMetadataKey: customer.ID.String(),
			"plan":                plan.Slug,
		},
	}

	url, err := o.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return url, nil
}

// CreateBillingPortal returns a customer portal URL.
func (o *Orchestrator) CreateBillingPortal(ctx context.Context, customerID uuid.UUID, returnURL string) (string, error) {
	customer, err := o.getCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}

	url, err := o.provider.CreateBillingPortal(ctx, customer.ProviderID, firstNonEmpty(returnURL, o.cfg.ReturnURL))
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal: %w", err)
	}
	return url, nil
}

// GetCustomer returns the customer with its most recent subscription attached.
func (o *Orchestrator) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return o.getCustomer(ctx, id)
}

// GetSubscription returns a subscription by internal id.
func (o *Orchestrator) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return o.getSubscription(ctx, id)
}

// ActiveSubscription returns the newest subscription of the customer that still grants access.
func (o *Orchestrator) ActiveSubscription(ctx context.Context, customerID uuid.UUID) (*Subscription, error) {
	subs, err := o.store.ListSubscriptions(ctx, SubscriptionFilter{
		CustomerID: customerID,
		Statuses:   CurrentStatuses,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no active subscription for customer %s", ErrSubscriptionNotFound, customerID)
	}
	return &subs[0], nil
}

func (o *Orchestrator) getCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	customer, err := o.store.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	return customer, nil
}

func (o *Orchestrator) getPlan(ctx context.Context, slug string) (*Plan, error) {
	plan, err := o.store.GetPlanBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, slug)
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return plan, nil
}

func (o *Orchestrator) getSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := o.store.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

func (o *Orchestrator) notify(ctx context.Context, hook string, err error) {
	if err != nil {
		o.log.ErrorContext(ctx, "Billing callback failed",
			logger.Component("orchestrator"),
			logger.Handler(hook),
			logger.Error(err),
		)
	}
}

func (o *Orchestrator) logLocalWriteFailure(ctx context.Context, op, providerID string, err error) {
	o.log.ErrorContext(ctx, "Provider write succeeded but local write failed",
		logger.Component("orchestrator"),
		logger.Event(op),
		slog.String("provider_id", providerID),
		logger.Error(err),
	)
}

// subscribablePrice resolves the price for the cycle and requires it to be synced.
func subscribablePrice(plan *Plan, cycle Interval) (*Price, error) {
	price, ok := plan.PriceForCycle(cycle)
	if !ok {
		return nil, fmt.Errorf("%w: plan %q has no %q price", ErrPriceNotFound, plan.Slug, cycle)
	}
	if price.ProviderID == "" {
		return nil, fmt.Errorf("%w: price %s of plan %q", ErrPriceProviderIDMissing, price.ID, plan.Slug)
	}
	return price, nil
}

func customerMetadata(in CreateCustomerInput) map[string]string {
	md := maps.Clone(in.Metadata)
	if in.ID != uuid.Nil {
		if md == nil {
			md = make(map[string]string, 1)
		}
		md[customerIDMetadataKey] = in.ID.String()
	}
	return md
}

func statusOr(s, fallback SubscriptionStatus) SubscriptionStatus {
	if s == "" {
		return fallback
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
