package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds the Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// Maximum automatic retries on network failures performed by the SDK.
	MaxNetworkRetries int64 `env:"STRIPE_MAX_NETWORK_RETRIES" envDefault:"2"`
}

// Validate checks that the required credentials are present.
func (c StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingAPIKey
	}
	if c.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	return nil
}

// StripeProvider implements Provider on top of the Stripe API.
// Plans map to Stripe products and prices to Stripe prices.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// StripeOption configures a StripeProvider.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backends *stripe.Backends
}

// WithStripeBackends overrides the SDK transport, e.g. to point it at a local stub server.
func WithStripeBackends(b *stripe.Backends) StripeOption {
	return func(o *stripeOptions) {
		o.backends = b
	}
}

// NewStripeProvider creates a Stripe-backed provider with its own API client,
// leaving the SDK's global key untouched.
func NewStripeProvider(cfg StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stripe configuration: %w", err)
	}

	var o stripeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.backends == nil {
		o.backends = stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		})
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, o.backends)

	return &StripeProvider{api: api, webhookSecret: cfg.WebhookSecret}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	cp := &stripe.CustomerParams{}
	cp.Context = ctx
	if params.Email != "" {
		cp.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		cp.Name = stripe.String(params.Name)
	}
	addStripeMetadata(&cp.Params, params.Metadata)

	c, err := p.api.Customers.New(cp)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return c.ID, nil
}

func (p *StripeProvider) UpdateCustomer(ctx context.Context, providerID string, params CustomerParams) error {
	cp := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
	}
	cp.Context = ctx
	addStripeMetadata(&cp.Params, params.Metadata)

	if _, err := p.api.Customers.Update(providerID, cp); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (p *StripeProvider) DeleteCustomer(ctx context.Context, providerID string) error {
	cp := &stripe.CustomerParams{}
	cp.Context = ctx
	if _, err := p.api.Customers.Del(providerID, cp); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, params SubscriptionParams) (*ProviderSubscription, error) {
	sp := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerProviderID),
		Items: []*stripe.SubscriptionItemsParams{{
			Price:    stripe.String(params.PriceProviderID),
			Quantity: stripe.Int64(max(params.Quantity, 1)),
		}},
	}
	sp.Context = ctx
	if params.TrialDays > 0 {
		sp.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	if params.BillingCycleAnchor != nil {
		sp.BillingCycleAnchor = stripe.Int64(params.BillingCycleAnchor.Unix())
	}
	if params.ProrationBehavior != "" {
		sp.ProrationBehavior = stripe.String(string(params.ProrationBehavior))
	}
	addStripeMetadata(&sp.Params, params.Metadata)

	sub, err := p.api.Subscriptions.New(sp)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return stripeProviderSubscription(sub), nil
}

// UpdateSubscription swaps the price and quantity of the subscription's first item.
func (p *StripeProvider) UpdateSubscription(ctx context.Context, providerID string, params SubscriptionParams) (*ProviderSubscription, error) {
	gp := &stripe.SubscriptionParams{}
	gp.Context = ctx
	current, err := p.api.Subscriptions.Get(providerID, gp)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSubscriptionItems, providerID)
	}

	item := &stripe.SubscriptionItemsParams{ID: stripe.String(current.Items.Data[0].ID)}
	if params.PriceProviderID != "" {
		item.Price = stripe.String(params.PriceProviderID)
	}
	if params.Quantity > 0 {
		item.Quantity = stripe.Int64(params.Quantity)
	}

	sp := &stripe.SubscriptionParams{Items: []*stripe.SubscriptionItemsParams{item}}
	sp.Context = ctx
	if params.ProrationBehavior != "" {
		sp.ProrationBehavior = stripe.String(string(params.ProrationBehavior))
	}
	addStripeMetadata(&sp.Params, params.Metadata)

	sub, err := p.api.Subscriptions.Update(providerID, sp)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return stripeProviderSubscription(sub), nil
}

// CancelSubscription cancels immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerID string) (*ProviderSubscription, error) {
	cp := &stripe.SubscriptionCancelParams{}
	cp.Context = ctx
	sub, err := p.api.Subscriptions.Cancel(providerID, cp)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return stripeProviderSubscription(sub), nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	sp := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(params.CustomerProviderID),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(params.PriceProviderID),
			Quantity: stripe.Int64(max(params.Quantity, 1)),
		}},
	}
	sp.Context = ctx

	subData := &stripe.CheckoutSessionSubscriptionDataParams{Metadata: maps.Clone(params.Metadata)}
	if len(params.UpgradeFrom) > 0 {
		if subData.Metadata == nil {
			subData.Metadata = make(map[string]string, 1)
		}
		subData.Metadata["upgrade_from"] = strings.Join(params.UpgradeFrom, ",")
	}
	if params.TrialDays > 0 {
		subData.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	sp.SubscriptionData = subData
	addStripeMetadata(&sp.Params, params.Metadata)

	s, err := p.api.CheckoutSessions.New(sp)
	if err != nil {
		return "", wrapStripeError(err)
	}
	if s.URL == "" {
		return "", ErrNoCheckoutURL
	}
	return s.URL, nil
}

func (p *StripeProvider) CreateBillingPortal(ctx context.Context, customerProviderID, returnURL string) (string, error) {
	sp := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerProviderID)}
	sp.Context = ctx
	if returnURL != "" {
		sp.ReturnURL = stripe.String(returnURL)
	}

	s, err := p.api.BillingPortalSessions.New(sp)
	if err != nil {
		return "", wrapStripeError(err)
	}
	if s.URL == "" {
		return "", ErrNoPortalURL
	}
	return s.URL, nil
}

func (p *StripeProvider) CreatePlan(ctx context.Context, params PlanParams) (string, error) {
	pp := &stripe.ProductParams{Name: stripe.String(params.Name)}
	pp.Context = ctx
	if params.Description != "" {
		pp.Description = stripe.String(params.Description)
	}
	addStripeMetadata(&pp.Params, params.Metadata)

	prod, err := p.api.Products.New(pp)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return prod.ID, nil
}

func (p *StripeProvider) UpdatePlan(ctx context.Context, providerID string, params PlanParams) error {
	pp := &stripe.ProductParams{
		Name:        stripe.String(params.Name),
		Description: stripe.String(params.Description),
	}
	pp.Context = ctx
	addStripeMetadata(&pp.Params, params.Metadata)

	if _, err := p.api.Products.Update(providerID, pp); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (p *StripeProvider) CreatePrice(ctx context.Context, params PriceParams) (string, error) {
	pp := &stripe.PriceParams{
		Product:    stripe.String(params.PlanProviderID),
		UnitAmount: stripe.Int64(params.Amount),
		Currency:   stripe.String(params.Currency),
		Nickname:   stripe.String(params.Slug),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(params.Interval)),
			IntervalCount: stripe.Int64(int64(max(params.IntervalCount, 1))),
		},
	}
	pp.Context = ctx
	addStripeMetadata(&pp.Params, params.Metadata)

	price, err := p.api.Prices.New(pp)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return price.ID, nil
}

// UpdatePrice refreshes the nickname and metadata. Stripe prices are immutable
// in amount, currency and interval, and catalog sync only matches prices on those.
func (p *StripeProvider) UpdatePrice(ctx context.Context, providerID string, params PriceParams) error {
	pp := &stripe.PriceParams{Nickname: stripe.String(params.Slug)}
	pp.Context = ctx
	addStripeMetadata(&pp.Params, params.Metadata)

	if _, err := p.api.Prices.Update(providerID, pp); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
// Event types the reconciler does not handle yield nil, nil.
func (p *StripeProvider) ParseWebhook(_ context.Context, req WebhookRequest) (*WebhookEvent, error) {
	sig := req.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrWebhookVerificationFailed)
	}

	event, err := webhook.ConstructEventWithOptions(req.Body, sig, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	return normalizeStripeEvent(event), nil
}

func normalizeStripeEvent(event stripe.Event) *WebhookEvent {
	typ := EventType(event.Type)
	out := &WebhookEvent{
		ID:            event.ID,
		Type:          typ,
		ProviderEvent: string(event.Type),
		OccurredAt:    time.Unix(event.Created, 0).UTC(),
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	var err error
	switch typ {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventSubscriptionTrialWillEnd:
		var w stripeSubscriptionWire
		if err = json.Unmarshal(raw, &w); err == nil {
			out.Data = w.eventData()
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var w stripeInvoiceWire
		if err = json.Unmarshal(raw, &w); err == nil {
			out.Data = w.eventData()
		}
	case EventCustomerCreated, EventCustomerUpdated:
		var w stripeCustomerWire
		if err = json.Unmarshal(raw, &w); err == nil {
			out.Data = &CustomerEventData{ProviderID: w.ID, Name: w.Name, Email: w.Email, Metadata: w.Metadata}
		}
	default:
		return nil
	}

	if err != nil {
		out.Type = EventError
		out.Data = &ErrorEventData{Message: fmt.Sprintf("failed to decode %s payload: %v", event.Type, err)}
	}
	return out
}

type stripeSubscriptionWire struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	TrialEnd           int64             `json:"trial_end"`
	BillingCycleAnchor int64             `json:"billing_cycle_anchor"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (w stripeSubscriptionWire) eventData() *SubscriptionEventData {
	d := &SubscriptionEventData{
		ProviderID:         w.ID,
		CustomerProviderID: w.Customer.ID,
		Status:             SubscriptionStatus(w.Status),
		TrialEndsAt:        unixPtr(w.TrialEnd),
		BillingCycleAnchor: unixPtr(w.BillingCycleAnchor),
		CanceledAt:         unixPtr(w.CanceledAt),
		Metadata:           w.Metadata,
	}
	if len(w.Items.Data) > 0 {
		d.PriceProviderID = w.Items.Data[0].Price.ID
		d.Quantity = w.Items.Data[0].Quantity
	}
	return d
}

type stripeInvoiceWire struct {
	ID               string    `json:"id"`
	Customer         stripeRef `json:"customer"`
	Subscription     stripeRef `json:"subscription"`
	AmountDue        int64     `json:"amount_due"`
	AmountPaid       int64     `json:"amount_paid"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	HostedInvoiceURL string    `json:"hosted_invoice_url"`
	Parent           *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (w stripeInvoiceWire) eventData() *InvoiceEventData {
	subID := w.Subscription.ID
	if subID == "" && w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		subID = w.Parent.SubscriptionDetails.Subscription.ID
	}
	return &InvoiceEventData{
		ProviderID:             w.ID,
		CustomerProviderID:     w.Customer.ID,
		SubscriptionProviderID: subID,
		AmountDue:              w.AmountDue,
		AmountPaid:             w.AmountPaid,
		Currency:               w.Currency,
		Status:                 w.Status,
		HostedInvoiceURL:       w.HostedInvoiceURL,
	}
}

type stripeCustomerWire struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

// stripeRef decodes a field that is either an id string or an expanded object.
type stripeRef struct {
	ID string
}

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

func stripeProviderSubscription(sub *stripe.Subscription) *ProviderSubscription {
	return &ProviderSubscription{
		ID:          sub.ID,
		Status:      SubscriptionStatus(sub.Status),
		TrialEndsAt: unixPtr(sub.TrialEnd),
		CanceledAt:  unixPtr(sub.CanceledAt),
	}
}

func addStripeMetadata(p *stripe.Params, md map[string]string) {
	for k, v := range md {
		p.AddMetadata(k, v)
	}
}

func wrapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("stripe %s (%d): %s: %w", se.Code, se.HTTPStatusCode, se.Msg, err)
	}
	return err
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
