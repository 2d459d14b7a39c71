package billing

import "time"

// EventType is the normalized webhook event tag.
// Provider adapters map their native event names to these values.
type EventType string

const (
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventSubscriptionTrialWillEnd EventType = "customer.subscription.trial_will_end"

	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"

	EventCustomerCreated EventType = "customer.created"
	EventCustomerUpdated EventType = "customer.updated"

	EventError EventType = "error"
)

// WebhookEvent is a verified, normalized provider event.
type WebhookEvent struct {
	ID            string    // provider event id, used for deduplication
	Type          EventType // normalized tag
	ProviderEvent string    // original provider event name
	OccurredAt    time.Time
	Data          EventData
}

// EventData is the payload variant carried by a WebhookEvent.
// The concrete type is determined by the event tag:
//
//	customer.subscription.*     -> *SubscriptionEventData
//	invoice.payment_*           -> *InvoiceEventData
//	customer.created/updated    -> *CustomerEventData
//	error                       -> *ErrorEventData
type EventData interface {
	eventData()
}

// SubscriptionEventData is the subscription snapshot supplied by subscription events.
type SubscriptionEventData struct {
	ProviderID         string
	CustomerProviderID string
	PriceProviderID    string
	Quantity           int64
	Status             SubscriptionStatus
	TrialEndsAt        *time.Time
	BillingCycleAnchor *time.Time
	ProrationBehavior  ProrationBehavior
	CanceledAt         *time.Time
	Metadata           map[string]string
}

// IsTrial reports whether the snapshot describes a trialing subscription.
func (d *SubscriptionEventData) IsTrial() bool {
	return d.Status == StatusTrialing
}

// InvoiceEventData is supplied by invoice payment events.
type InvoiceEventData struct {
	ProviderID             string
	CustomerProviderID     string
	SubscriptionProviderID string
	AmountDue              int64
	AmountPaid             int64
	Currency               string
	Status                 string
	HostedInvoiceURL       string
}

// CustomerEventData is supplied by customer events.
type CustomerEventData struct {
	ProviderID string
	Name       string
	Email      string
	Metadata   map[string]string
}

// ErrorEventData is produced when a provider event of a consumed type could not be decoded.
type ErrorEventData struct {
	Message string
}

func (*SubscriptionEventData) eventData() {}
func (*InvoiceEventData) eventData()      {}
func (*CustomerEventData) eventData()     {}
func (*ErrorEventData) eventData()        {}
