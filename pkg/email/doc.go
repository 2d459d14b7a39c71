// Package email provides a provider-agnostic interface for sending transactional
// emails, with a Postmark-backed sender for production and a disk-backed sender
// for local development.
//
// # Usage
//
//	import "github.com/dmitrymomot/paysync/pkg/email"
//
//	client, err := email.NewPostmarkClient(email.Config{
//	    PostmarkServerToken: "your-server-token",
//	    SenderEmail:         "billing@example.com",
//	    SupportEmail:        "support@example.com",
//	})
//	if err != nil {
//	    // Handle configuration error
//	}
//
//	err = client.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "user@example.com",
//	    Subject:  "Your trial ends soon",
//	    BodyHTML: htmlContent,
//	    Tag:      "trial-will-end",
//	})
//
// Development mode saves emails locally as JSON files:
//
//	devSender := email.NewDevSender("./.emails")
//
// NewFromConfig picks between the two based on whether a server token is set.
//
// Bodies are templ components rendered with the templates subpackage:
//
//	html, err := templates.Render(ctx, templates.TrialWillEnd(params))
//
// # Error Handling
//
//   - ErrInvalidConfig: configuration validation failed
//   - ErrInvalidParams: email parameters validation failed
//   - ErrFailedToSendEmail: delivery failed
package email
