package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// TrialWillEndParams fills the trial conversion reminder.
type TrialWillEndParams struct {
	Name   string
	Ends   string // "soon" or "on 2006-01-02"
	Portal string
}

// TrialWillEnd tells the customer the trial is about to convert to the paid plan.
func TrialWillEnd(p TrialWillEndParams) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return writeAll(w,
			"<p>Hi ", templ.EscapeString(p.Name), ",</p>",
			"<p>Your trial ends ", templ.EscapeString(p.Ends),
			". Your subscription will continue on the paid plan unless you cancel.</p>",
			link(p.Portal, "Manage billing"),
		)
	})
}

// PaymentFailedParams fills the declined payment notice.
type PaymentFailedParams struct {
	Name   string
	Amount string
	Link   string
}

// PaymentFailed asks the customer to update the payment method after a declined charge.
func PaymentFailed(p PaymentFailedParams) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return writeAll(w,
			"<p>Hi ", templ.EscapeString(p.Name), ",</p>",
			"<p>We could not charge ", templ.EscapeString(p.Amount),
			" for your subscription. Please update your payment method.</p>",
			link(p.Link, "Update payment details"),
		)
	})
}

// link renders a paragraph with an anchor, or nothing for an empty href.
// Unsafe schemes are replaced by templ.URL.
func link(href, label string) string {
	if href == "" {
		return ""
	}
	return `<p><a href="` + templ.EscapeString(string(templ.URL(href))) + `">` + templ.EscapeString(label) + `</a></p>`
}

func writeAll(w io.Writer, parts ...string) error {
	for _, part := range parts {
		if _, err := io.WriteString(w, part); err != nil {
			return err
		}
	}
	return nil
}
