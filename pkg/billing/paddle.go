package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle Billing.
// Plans map to Paddle products and prices to Paddle prices.
// Paddle creates subscriptions only through checkout, so CreateSubscription is
// unsupported and subscriptions are materialized by the webhook path.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnv, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *PaddleProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	req := &paddle.CreateCustomerRequest{
		Email:      params.Email,
		CustomData: paddleCustomData(params.Metadata),
	}
	if params.Name != "" {
		req.Name = paddle.PtrTo(params.Name)
	}

	c, err := p.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("paddle: %w", err)
	}
	return c.ID, nil
}

func (p *PaddleProvider) UpdateCustomer(ctx context.Context, providerID string, params CustomerParams) error {
	req := &paddle.UpdateCustomerRequest{
		CustomerID: providerID,
		Name:       paddle.NewPatchField(paddle.PtrTo(params.Name)),
		Email:      paddle.NewPatchField(params.Email),
	}
	if params.Metadata != nil {
		req.CustomData = paddle.NewPatchField(paddleCustomData(params.Metadata))
	}

	if _, err := p.client.CustomersClient.UpdateCustomer(ctx, req); err != nil {
		return fmt.Errorf("paddle: %w", err)
	}
	return nil
}

// DeleteCustomer archives the customer; Paddle has no hard delete.
func (p *PaddleProvider) DeleteCustomer(ctx context.Context, providerID string) error {
	req := &paddle.UpdateCustomerRequest{
		CustomerID: providerID,
		Status:     paddle.NewPatchField(paddle.StatusArchived),
	}
	if _, err := p.client.CustomersClient.UpdateCustomer(ctx, req); err != nil {
		return fmt.Errorf("paddle: %w", err)
	}
	return nil
}

func (p *PaddleProvider) CreateSubscription(context.Context, SubscriptionParams) (*ProviderSubscription, error) {
	return nil, fmt.Errorf("%w: paddle subscriptions are created through checkout", ErrUnsupportedOperation)
}

func (p *PaddleProvider) UpdateSubscription(ctx context.Context, providerID string, params SubscriptionParams) (*ProviderSubscription, error) {
	req := &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       providerID,
		ProrationBillingMode: paddle.NewPatchField(paddleProration(params.ProrationBehavior)),
	}
	if params.PriceProviderID != "" {
		item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
			PriceID:  params.PriceProviderID,
			Quantity: int(max(params.Quantity, 1)),
		})
		req.Items = paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item})
	}
	if params.Metadata != nil {
		req.CustomData = paddle.NewPatchField(paddleCustomData(params.Metadata))
	}

	sub, err := p.client.SubscriptionsClient.UpdateSubscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("paddle: %w", err)
	}
	return paddleProviderSubscription(sub), nil
}

// CancelSubscription cancels immediately.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, providerID string) (*ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return nil, fmt.Errorf("paddle: %w", err)
	}
	return paddleProviderSubscription(sub), nil
}

// CreateCheckoutSession creates a checkout transaction and returns its hosted URL.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceProviderID,
		Quantity: int(max(params.Quantity, 1)),
	})

	customData := paddleCustomData(params.Metadata)
	if len(params.UpgradeFrom) > 0 {
		if customData == nil {
			customData = paddle.CustomData{}
		}
		customData["upgrade_from"] = strings.Join(params.UpgradeFrom, ",")
	}

	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(params.CustomerProviderID),
		CustomData: customData,
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.SuccessURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return "", fmt.Errorf("paddle: %w", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return "", ErrNoCheckoutURL
	}
	return *txn.Checkout.URL, nil
}

// CreateBillingPortal returns the customer portal overview URL.
// Paddle portal sessions carry no return URL.
func (p *PaddleProvider) CreateBillingPortal(ctx context.Context, customerProviderID, _ string) (string, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerProviderID,
	})
	if err != nil {
		return "", fmt.Errorf("paddle: %w", err)
	}
	if session.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return session.URLs.General.Overview, nil
}

func (p *PaddleProvider) CreatePlan(ctx context.Context, params PlanParams) (string, error) {
	req := &paddle.CreateProductRequest{
		Name:        params.Name,
		TaxCategory: paddle.TaxCategoryStandard,
		CustomData:  paddleCustomData(params.Metadata),
	}
	if params.Description != "" {
		req.Description = paddle.PtrTo(params.Description)
	}

	prod, err := p.client.ProductsClient.CreateProduct(ctx, req)
	if err != nil {
		return "", fmt.Errorf("paddle: %w", err)
	}
	return prod.ID, nil
}

func (p *PaddleProvider) UpdatePlan(ctx context.Context, providerID string, params PlanParams) error {
	req := &paddle.UpdateProductRequest{
		ProductID:   providerID,
		Name:        paddle.NewPatchField(params.Name),
		Description: paddle.NewPatchField(paddle.PtrTo(params.Description)),
		CustomData:  paddle.NewPatchField(paddleCustomData(params.Metadata)),
	}
	if _, err := p.client.ProductsClient.UpdateProduct(ctx, req); err != nil {
		return fmt.Errorf("paddle: %w", err)
	}
	return nil
}

func (p *PaddleProvider) CreatePrice(ctx context.Context, params PriceParams) (string, error) {
	req := &paddle.CreatePriceRequest{
		ProductID:   params.PlanProviderID,
		Description: params.Slug,
		UnitPrice:   paddleMoney(params.Amount, params.Currency),
		BillingCycle: &paddle.Duration{
			Interval:  paddleInterval(params.Interval),
			Frequency: max(params.IntervalCount, 1),
		},
		CustomData: paddleCustomData(params.Metadata),
	}

	price, err := p.client.PricesClient.CreatePrice(ctx, req)
	if err != nil {
		return "", fmt.Errorf("paddle: %w", err)
	}
	return price.ID, nil
}

func (p *PaddleProvider) UpdatePrice(ctx context.Context, providerID string, params PriceParams) error {
	req := &paddle.UpdatePriceRequest{
		PriceID:     providerID,
		Description: paddle.NewPatchField(params.Slug),
		UnitPrice:   paddle.NewPatchField(paddleMoney(params.Amount, params.Currency)),
		CustomData:  paddle.NewPatchField(paddleCustomData(params.Metadata)),
	}
	if _, err := p.client.PricesClient.UpdatePrice(ctx, req); err != nil {
		return fmt.Errorf("paddle: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	httpReq.Header.Set("Paddle-Signature", req.Header.Get("Paddle-Signature"))

	valid, err := p.verifier.Verify(httpReq)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	return parsePaddleEvent(req.Body)
}

type paddleEventWire struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func parsePaddleEvent(body []byte) (*WebhookEvent, error) {
	var env paddleEventWire
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	typ, ok := mapPaddleEventType(env.EventType)
	if !ok {
		return nil, nil
	}

	event := &WebhookEvent{
		ID:            env.EventID,
		Type:          typ,
		ProviderEvent: env.EventType,
		OccurredAt:    env.OccurredAt,
	}

	var err error
	switch typ {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var w paddleSubscriptionWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			event.Data = w.eventData()
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var w paddleTransactionWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			event.Data = w.eventData()
		}
	case EventCustomerCreated, EventCustomerUpdated:
		var w paddleCustomerWire
		if err = json.Unmarshal(env.Data, &w); err == nil {
			event.Data = &CustomerEventData{ProviderID: w.ID, Name: w.Name, Email: w.Email, Metadata: w.CustomData}
		}
	}

	if err != nil {
		event.Type = EventError
		event.Data = &ErrorEventData{Message: fmt.Sprintf("failed to decode %s payload: %v", env.EventType, err)}
	}
	return event, nil
}

// mapPaddleEventType maps Paddle event names onto the normalized tags.
// Terminal cancellation is reported as deletion.
func mapPaddleEventType(name string) (EventType, bool) {
	switch name {
	case "subscription.created":
		return EventSubscriptionCreated, true
	case "subscription.updated", "subscription.activated", "subscription.trialing",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		return EventSubscriptionUpdated, true
	case "subscription.canceled":
		return EventSubscriptionDeleted, true
	case "transaction.completed":
		return EventInvoicePaymentSucceeded, true
	case "transaction.payment_failed":
		return EventInvoicePaymentFailed, true
	case "customer.created":
		return EventCustomerCreated, true
	case "customer.updated":
		return EventCustomerUpdated, true
	default:
		return "", false
	}
}

type paddleSubscriptionWire struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	CustomerID string          `json:"customer_id"`
	CanceledAt *time.Time      `json:"canceled_at"`
	StartedAt  *time.Time      `json:"started_at"`
	CustomData paddleStringMap `json:"custom_data"`
	Items      []struct {
		Quantity   int64 `json:"quantity"`
		TrialDates *struct {
			EndsAt *time.Time `json:"ends_at"`
		} `json:"trial_dates"`
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func (w paddleSubscriptionWire) eventData() *SubscriptionEventData {
	d := &SubscriptionEventData{
		ProviderID:         w.ID,
		CustomerProviderID: w.CustomerID,
		Status:             mapPaddleStatus(w.Status),
		BillingCycleAnchor: w.StartedAt,
		CanceledAt:         w.CanceledAt,
		Metadata:           w.CustomData,
	}
	if len(w.Items) > 0 {
		d.PriceProviderID = w.Items[0].Price.ID
		d.Quantity = w.Items[0].Quantity
		if w.Items[0].TrialDates != nil {
			d.TrialEndsAt = w.Items[0].TrialDates.EndsAt
		}
	}
	return d
}

type paddleTransactionWire struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	CurrencyCode   string `json:"currency_code"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	} `json:"payments"`
}

func (w paddleTransactionWire) eventData() *InvoiceEventData {
	due, _ := strconv.ParseInt(w.Details.Totals.GrandTotal, 10, 64)
	var paid int64
	for _, pay := range w.Payments {
		if pay.Status == "captured" {
			amount, _ := strconv.ParseInt(pay.Amount, 10, 64)
			paid += amount
		}
	}
	return &InvoiceEventData{
		ProviderID:             w.ID,
		CustomerProviderID:     w.CustomerID,
		SubscriptionProviderID: w.SubscriptionID,
		AmountDue:              due,
		AmountPaid:             paid,
		Currency:               strings.ToLower(w.CurrencyCode),
		Status:                 w.Status,
	}
}

type paddleCustomerWire struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	CustomData paddleStringMap `json:"custom_data"`
}

// paddleStringMap decodes custom_data, stringifying non-string values.
type paddleStringMap map[string]string

func (m *paddleStringMap) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(paddleStringMap, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[k] = string(enc)
	}
	*m = out
	return nil
}

func mapPaddleStatus(status string) SubscriptionStatus {
	switch strings.ToLower(status) {
	case "trialing":
		return StatusTrialing
	case "active":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "paused":
		return StatusPaused
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return SubscriptionStatus(status)
	}
}

func paddleProviderSubscription(sub *paddle.Subscription) *ProviderSubscription {
	ps := &ProviderSubscription{
		ID:     sub.ID,
		Status: mapPaddleStatus(string(sub.Status)),
	}
	if sub.CanceledAt != nil {
		if t, err := time.Parse(time.RFC3339, *sub.CanceledAt); err == nil {
			ps.CanceledAt = &t
		}
	}
	return ps
}

func paddleProration(b ProrationBehavior) paddle.ProrationBillingMode {
	switch b {
	case ProrationNone:
		return paddle.ProrationBillingModeDoNotBill
	case ProrationAlways:
		return paddle.ProrationBillingModeProratedImmediately
	default:
		return paddle.ProrationBillingModeProratedNextBillingPeriod
	}
}

func paddleInterval(i Interval) paddle.Interval {
	if i == IntervalYear {
		return paddle.IntervalYear
	}
	return paddle.IntervalMonth
}

func paddleMoney(amount int64, currency string) paddle.Money {
	return paddle.Money{
		Amount:       strconv.FormatInt(amount, 10),
		CurrencyCode: paddle.CurrencyCode(strings.ToUpper(currency)),
	}
}

func paddleCustomData(md map[string]string) paddle.CustomData {
	if md == nil {
		return nil
	}
	out := make(paddle.CustomData, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
