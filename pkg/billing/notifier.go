package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/paysync/pkg/email"
	"github.com/dmitrymomot/paysync/pkg/email/templates"
	"github.com/dmitrymomot/paysync/pkg/logger"
)

// EmailNotifier sends customer-facing billing emails from webhook callbacks.
type EmailNotifier struct {
	sender     email.EmailSender
	store      Store
	log        *slog.Logger
	portalLink string
}

// NewEmailNotifier builds a notifier. portalLink is included in emails as the
// place to manage billing; it may be empty.
func NewEmailNotifier(sender email.EmailSender, store Store, log *slog.Logger, portalLink string) *EmailNotifier {
	if sender == nil {
		panic("billing: email sender is required")
	}
	if store == nil {
		panic("billing: store is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &EmailNotifier{sender: sender, store: store, log: log, portalLink: portalLink}
}

// Callbacks returns the hooks to register with WithCallbacks.
func (n *EmailNotifier) Callbacks() Callbacks {
	return Callbacks{
		OnSubscriptionTrialWillEnd: n.TrialWillEnd,
		OnInvoicePaymentFailed:     n.InvoicePaymentFailed,
	}
}

// TrialWillEnd emails the customer that the trial is about to convert.
func (n *EmailNotifier) TrialWillEnd(ctx context.Context, data *SubscriptionEventData) error {
	customer, err := n.store.GetCustomerByProviderID(ctx, data.CustomerProviderID)
	if err != nil {
		return n.skip(ctx, "trial_will_end", data.CustomerProviderID, err)
	}

	ends := "soon"
	if data.TrialEndsAt != nil {
		ends = "on " + data.TrialEndsAt.Format(time.DateOnly)
	}
	return n.send(ctx, customer, "Your trial ends "+ends, "trial-will-end", templates.TrialWillEnd(templates.TrialWillEndParams{
		Name:   customer.Name,
		Ends:   ends,
		Portal: n.portalLink,
	}))
}

// InvoicePaymentFailed emails the customer that a payment was declined.
func (n *EmailNotifier) InvoicePaymentFailed(ctx context.Context, data *InvoiceEventData) error {
	customer, err := n.store.GetCustomerByProviderID(ctx, data.CustomerProviderID)
	if err != nil {
		return n.skip(ctx, "invoice_payment_failed", data.CustomerProviderID, err)
	}

	link := data.HostedInvoiceURL
	if link == "" {
		link = n.portalLink
	}
	return n.send(ctx, customer, "We could not process your payment", "payment-failed", templates.PaymentFailed(templates.PaymentFailedParams{
		Name:   customer.Name,
		Amount: formatAmount(data.AmountDue, data.Currency),
		Link:   link,
	}))
}

func (n *EmailNotifier) send(ctx context.Context, customer *Customer, subject, tag string, body templ.Component) error {
	if customer.Email == "" {
		n.log.WarnContext(ctx, "Customer has no email address",
			logger.Component("notifier"),
			logger.CustomerID(customer.ID),
		)
		return nil
	}

	html, err := templates.Render(ctx, body)
	if err != nil {
		return fmt.Errorf("failed to render %s email: %w", tag, err)
	}

	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   customer.Email,
		Subject:  subject,
		BodyHTML: html,
		Tag:      tag,
		Metadata: map[string]string{customerIDMetadataKey: customer.ID.String()},
	})
}

// skip logs a notification for a customer unknown locally. Unknown customers are
// not retried: the event itself carries no state to reconcile.
func (n *EmailNotifier) skip(ctx context.Context, hook, providerID string, err error) error {
	if IsNotFound(err) {
		n.log.InfoContext(ctx, "Skipping billing email for unknown customer",
			logger.Component("notifier"),
			logger.Handler(hook),
			slog.String("customer_provider_id", providerID),
		)
		return nil
	}
	return fmt.Errorf("failed to load customer: %w", err)
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
