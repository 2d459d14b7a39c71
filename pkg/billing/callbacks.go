package billing

import "context"

// Callbacks are optional domain-event hooks.
// Each is invoked at most once per processed operation or event, after the
// corresponding state mutation. Errors returned by a hook fail the surrounding
// webhook delivery so that the provider retries it.
type Callbacks struct {
	OnCustomerCreated func(ctx context.Context, customer *Customer) error
	OnCustomerUpdated func(ctx context.Context, customer *Customer) error
	OnCustomerDeleted func(ctx context.Context, customer *Customer) error

	OnSubscriptionCreated      func(ctx context.Context, sub *Subscription) error
	OnSubscriptionUpdated      func(ctx context.Context, sub *Subscription) error
	OnSubscriptionCanceled     func(ctx context.Context, sub *Subscription) error
	OnSubscriptionDeleted      func(ctx context.Context, sub *Subscription) error
	OnSubscriptionTrialWillEnd func(ctx context.Context, data *SubscriptionEventData) error

	OnInvoicePaymentSucceeded func(ctx context.Context, data *InvoiceEventData) error
	OnInvoicePaymentFailed    func(ctx context.Context, data *InvoiceEventData) error

	OnWebhookReceived func(ctx context.Context, event *WebhookEvent) error
}

func fire[T any](ctx context.Context, fn func(context.Context, T) error, v T) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, v)
}

// Merge returns callbacks that run c's hook first, then other's, stopping at the first error.
func (c Callbacks) Merge(other Callbacks) Callbacks {
	return Callbacks{
		OnCustomerCreated:          chain(c.OnCustomerCreated, other.OnCustomerCreated),
		OnCustomerUpdated:          chain(c.OnCustomerUpdated, other.OnCustomerUpdated),
		OnCustomerDeleted:          chain(c.OnCustomerDeleted, other.OnCustomerDeleted),
		OnSubscriptionCreated:      chain(c.OnSubscriptionCreated, other.OnSubscriptionCreated),
		OnSubscriptionUpdated:      chain(c.OnSubscriptionUpdated, other.OnSubscriptionUpdated),
		OnSubscriptionCanceled:     chain(c.OnSubscriptionCanceled, other.OnSubscriptionCanceled),
		OnSubscriptionDeleted:      chain(c.OnSubscriptionDeleted, other.OnSubscriptionDeleted),
		OnSubscriptionTrialWillEnd: chain(c.OnSubscriptionTrialWillEnd, other.OnSubscriptionTrialWillEnd),
		OnInvoicePaymentSucceeded:  chain(c.OnInvoicePaymentSucceeded, other.OnInvoicePaymentSucceeded),
		OnInvoicePaymentFailed:     chain(c.OnInvoicePaymentFailed, other.OnInvoicePaymentFailed),
		OnWebhookReceived:          chain(c.OnWebhookReceived, other.OnWebhookReceived),
	}
}

func chain[T any](first, second func(context.Context, T) error) func(context.Context, T) error {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	return func(ctx context.Context, v T) error {
		if err := first(ctx, v); err != nil {
			return err
		}
		return second(ctx, v)
	}
}
