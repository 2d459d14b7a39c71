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

// Reconciler applies verified provider events to the local store.
// Every branch is shaped as an upsert keyed by provider id, so redelivery of
// the same event converges to the same state. Subscription events for one
// customer are serialized inside the process.
type Reconciler struct {
	store     Store
	log       *slog.Logger
	callbacks Callbacks
	locks     *keyLock
}

// Reconcile dispatches the event by tag. A returned error means the delivery
// must be reported as failed so that the provider retries it.
func (r *Reconciler) Reconcile(ctx context.Context, event *WebhookEvent) error {
	if event == nil {
		return nil
	}

	var err error
	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		data, ok := event.Data.(*SubscriptionEventData)
		if !ok {
			return r.invalidPayload(event)
		}
		unlock := r.locks.Lock(data.CustomerProviderID)
		switch event.Type {
		case EventSubscriptionCreated:
			err = r.subscriptionCreated(ctx, data)
		case EventSubscriptionUpdated:
			err = r.subscriptionUpdated(ctx, data)
		default:
			err = r.subscriptionDeleted(ctx, data)
		}
		unlock()

	case EventSubscriptionTrialWillEnd:
		data, ok := event.Data.(*SubscriptionEventData)
		if !ok {
			return r.invalidPayload(event)
		}
		if r.callbacks.OnSubscriptionTrialWillEnd == nil {
			r.log.InfoContext(ctx, "Subscription trial will end",
				logger.Component("reconciler"),
				slog.String("subscription_provider_id", data.ProviderID),
			)
		}
		err = fire(ctx, r.callbacks.OnSubscriptionTrialWillEnd, data)

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		data, ok := event.Data.(*InvoiceEventData)
		if !ok {
			return r.invalidPayload(event)
		}
		err = r.invoicePayment(ctx, event.Type, data)

	case EventCustomerCreated, EventCustomerUpdated:
		data, ok := event.Data.(*CustomerEventData)
		if !ok {
			return r.invalidPayload(event)
		}
		err = r.customerChanged(ctx, data)

	case EventError:
		msg := ""
		if data, ok := event.Data.(*ErrorEventData); ok {
			msg = data.Message
		}
		r.log.WarnContext(ctx, "Provider reported a webhook error event",
			logger.Component("reconciler"),
			logger.ProviderEventID(event.ID),
			slog.String("provider_event", event.ProviderEvent),
			slog.String("message", msg),
		)

	default:
		r.log.DebugContext(ctx, "Ignoring unhandled webhook event",
			logger.Component("reconciler"),
			logger.EventType(string(event.Type)),
		)
	}

	if err != nil {
		return fmt.Errorf("failed to reconcile %s: %w", event.Type, err)
	}

	if err := fire(ctx, r.callbacks.OnWebhookReceived, event); err != nil {
		return fmt.Errorf("webhook received callback: %w", err)
	}
	return nil
}

func (r *Reconciler) subscriptionCreated(ctx context.Context, data *SubscriptionEventData) error {
	customer, price, err := r.resolveParties(ctx, data)
	if err != nil {
		return err
	}

	existing, err := r.store.GetSubscriptionByProviderID(ctx, data.ProviderID)
	switch {
	case err == nil:
		// Our own create path or an earlier delivery already stored it.
		applySubscriptionEvent(existing, data, price)
		if err := r.store.UpdateSubscription(ctx, existing); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		return nil
	case !errors.Is(err, ErrSubscriptionNotFound):
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	sub := newSubscriptionFromEvent(customer, price, data)
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	r.log.InfoContext(ctx, "Subscription created from webhook",
		logger.Component("reconciler"),
		logger.CustomerID(customer.ID),
		logger.SubscriptionID(sub.ID),
	)
	return fire(ctx, r.callbacks.OnSubscriptionCreated, sub)
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, data *SubscriptionEventData) error {
	sub, err := r.store.GetSubscriptionByProviderID(ctx, data.ProviderID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub == nil {
		healed, err := r.selfHeal(ctx, data)
		if err != nil {
			return err
		}
		sub = healed
	}

	var price *Price
	if data.PriceProviderID != "" {
		price, err = r.store.GetPriceByProviderID(ctx, data.PriceProviderID)
		if err != nil {
			return priceLookupError(data.PriceProviderID, err)
		}
	}

	applySubscriptionEvent(sub, data, price)
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return fire(ctx, r.callbacks.OnSubscriptionUpdated, sub)
}

// selfHeal materializes a subscription whose update arrived before any local row.
// It only creates when the customer has no subscription history; otherwise the
// missing row is reported so the delivery is retried.
func (r *Reconciler) selfHeal(ctx context.Context, data *SubscriptionEventData) (*Subscription, error) {
	customer, price, err := r.resolveParties(ctx, data)
	if err != nil {
		return nil, err
	}

	subs, err := r.store.ListSubscriptions(ctx, SubscriptionFilter{CustomerID: customer.ID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) > 0 {
		return nil, fmt.Errorf("%w: provider id %s", ErrSubscriptionNotFound, data.ProviderID)
	}

	sub := newSubscriptionFromEvent(customer, price, data)
	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	r.log.InfoContext(ctx, "Self-healed missing subscription from update event",
		logger.Component("reconciler"),
		logger.CustomerID(customer.ID),
		logger.SubscriptionID(sub.ID),
	)
	if err := fire(ctx, r.callbacks.OnSubscriptionCreated, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, data *SubscriptionEventData) error {
	sub, err := r.store.GetSubscriptionByProviderID(ctx, data.ProviderID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return fmt.Errorf("%w: provider id %s", ErrSubscriptionNotFound, data.ProviderID)
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	sub.Status = StatusCanceled
	switch {
	case data.CanceledAt != nil:
		sub.CanceledAt = clonePtr(data.CanceledAt)
	case sub.CanceledAt == nil:
		now := time.Now().UTC()
		sub.CanceledAt = &now
	}
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if err := fire(ctx, r.callbacks.OnSubscriptionCanceled, sub); err != nil {
		return err
	}
	return fire(ctx, r.callbacks.OnSubscriptionDeleted, sub)
}

func (r *Reconciler) invoicePayment(ctx context.Context, typ EventType, data *InvoiceEventData) error {
	fn := r.callbacks.OnInvoicePaymentSucceeded
	if typ == EventInvoicePaymentFailed {
		fn = r.callbacks.OnInvoicePaymentFailed
	}
	if fn == nil {
		r.log.InfoContext(ctx, "Invoice payment event",
			logger.Component("reconciler"),
			logger.EventType(string(typ)),
			slog.String("invoice_provider_id", data.ProviderID),
			slog.String("customer_provider_id", data.CustomerProviderID),
			slog.Int64("amount_due", data.AmountDue),
			slog.Int64("amount_paid", data.AmountPaid),
			slog.String("currency", data.Currency),
		)
		return nil
	}
	return fn(ctx, data)
}

// customerChanged syncs profile fields onto the local customer, creating it
// when the provider id is unknown locally.
func (r *Reconciler) customerChanged(ctx context.Context, data *CustomerEventData) error {
	unlock := r.locks.Lock(data.ProviderID)
	defer unlock()

	customer, err := r.store.GetCustomerByProviderID(ctx, data.ProviderID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return r.customerMissing(ctx, data)
		}
		return fmt.Errorf("failed to load customer: %w", err)
	}
	return r.syncCustomer(ctx, customer, data)
}

func (r *Reconciler) syncCustomer(ctx context.Context, customer *Customer, data *CustomerEventData) error {
	if data.Name != "" {
		customer.Name = data.Name
	}
	if data.Email != "" {
		customer.Email = data.Email
	}
	if data.Metadata != nil {
		customer.Metadata = localCustomerMetadata(data.Metadata)
	}
	customer.Subscription = nil

	if err := r.store.UpdateCustomer(ctx, customer); err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return fire(ctx, r.callbacks.OnCustomerUpdated, customer)
}

// customerMissing inserts a customer the provider knows but the store does not.
// The internal id comes from the customer_id metadata written at onboarding.
// Losing the insert race to onboarding falls back to a field sync.
func (r *Reconciler) customerMissing(ctx context.Context, data *CustomerEventData) error {
	customer := &Customer{
		ProviderID: data.ProviderID,
		Name:       data.Name,
		Email:      data.Email,
		Metadata:   localCustomerMetadata(data.Metadata),
	}
	if id, err := uuid.Parse(data.Metadata[customerIDMetadataKey]); err == nil {
		customer.ID = id
	}

	if err := r.store.CreateCustomer(ctx, customer); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		existing, lookupErr := r.store.GetCustomerByProviderID(ctx, data.ProviderID)
		if lookupErr != nil {
			return fmt.Errorf("failed to create customer: %w", errors.Join(err, lookupErr))
		}
		return r.syncCustomer(ctx, existing, data)
	}

	r.log.InfoContext(ctx, "Customer created from provider event",
		logger.Component("reconciler"),
		logger.CustomerID(customer.ID),
		slog.String("customer_provider_id", data.ProviderID),
	)
	return fire(ctx, r.callbacks.OnCustomerCreated, customer)
}

// localCustomerMetadata drops the keys the orchestrator adds for the provider.
func localCustomerMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := maps.Clone(md)
	delete(out, customerIDMetadataKey)
	return out
}

func (r *Reconciler) resolveParties(ctx context.Context, data *SubscriptionEventData) (*Customer, *Price, error) {
	customer, err := r.store.GetCustomerByProviderID(ctx, data.CustomerProviderID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return nil, nil, fmt.Errorf("%w: provider id %s", ErrCustomerNotFound, data.CustomerProviderID)
		}
		return nil, nil, fmt.Errorf("failed to load customer: %w", err)
	}

	price, err := r.store.GetPriceByProviderID(ctx, data.PriceProviderID)
	if err != nil {
		return nil, nil, priceLookupError(data.PriceProviderID, err)
	}
	return customer, price, nil
}

func (r *Reconciler) invalidPayload(event *WebhookEvent) error {
	return fmt.Errorf("%w: event %s carries %T", ErrInvalidWebhookPayload, event.Type, event.Data)
}

func priceLookupError(providerID string, err error) error {
	if errors.Is(err, ErrPriceNotFound) {
		return fmt.Errorf("%w: provider id %s", ErrPriceNotFound, providerID)
	}
	return fmt.Errorf("failed to load price: %w", err)
}

func newSubscriptionFromEvent(customer *Customer, price *Price, data *SubscriptionEventData) *Subscription {
	sub := &Subscription{
		ProviderID: data.ProviderID,
		CustomerID: customer.ID,
	}
	applySubscriptionEvent(sub, data, price)
	return sub
}

// applySubscriptionEvent copies the provider-authoritative field set onto sub.
func applySubscriptionEvent(sub *Subscription, data *SubscriptionEventData, price *Price) {
	if price != nil {
		sub.PriceID = price.ID
	}
	sub.Quantity = max(data.Quantity, 1)
	sub.Status = statusOr(data.Status, StatusActive)
	sub.TrialEndsAt = clonePtr(data.TrialEndsAt)
	if data.IsTrial() && data.TrialEndsAt != nil && sub.TrialDays == 0 {
		start := sub.CreatedAt
		if start.IsZero() {
			start = time.Now()
		}
		sub.TrialDays = max(int(data.TrialEndsAt.Sub(start).Hours()/24+0.5), 0)
	}
	if data.BillingCycleAnchor != nil {
		sub.BillingCycleAnchor = clonePtr(data.BillingCycleAnchor)
	}
	if data.ProrationBehavior != "" {
		sub.ProrationBehavior = data.ProrationBehavior
	}
	if data.CanceledAt != nil {
		sub.CanceledAt = clonePtr(data.CanceledAt)
	}
	if data.Metadata != nil {
		sub.Metadata = maps.Clone(data.Metadata)
	}
}
