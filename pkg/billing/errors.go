package billing

import "errors"

var (
	ErrCustomerNotFound       = errors.New("billing customer not found")
	ErrPlanNotFound           = errors.New("billing plan not found")
	ErrPriceNotFound          = errors.New("billing price not found")
	ErrSubscriptionNotFound   = errors.New("billing subscription not found")
	ErrPriceProviderIDMissing = errors.New("billing price has no provider ID")
	ErrAlreadyExists          = errors.New("billing record already exists")

	// Configuration errors
	ErrDefaultPlanNotFree    = errors.New("default plan must be free when trial is disabled")
	ErrInvalidPlanDefinition = errors.New("invalid plan definition")
	ErrInvalidInterval       = errors.New("invalid billing interval")
	ErrMissingProvider       = errors.New("billing provider is required")
	ErrMissingStore          = errors.New("billing store is required")

	// Provider-specific errors
	ErrMissingAPIKey             = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnv        = errors.New("invalid billing provider environment")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")
	ErrUnsupportedOperation      = errors.New("operation not supported by billing provider")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL               = errors.New("no portal URL returned from provider")
	ErrNoSubscriptionItems       = errors.New("provider subscription has no items")

	// Entitlement errors
	ErrLimitExceeded   = errors.New("plan limit exceeded")
	ErrInvalidResource = errors.New("resource is not limited by the plan")
	ErrFeatureDisabled = errors.New("feature not available on the current plan")

	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
	ErrEventInFlight         = errors.New("webhook event is being processed")
)

// Error codes exposed to API layers that map billing failures to their own envelopes.
const (
	CodeCustomerNotFound       = "CUSTOMER_NOT_FOUND"
	CodePlanNotFound           = "PLAN_NOT_FOUND"
	CodePriceNotFound          = "PRICE_NOT_FOUND"
	CodePriceProviderIDMissing = "PRICE_PROVIDER_ID_MISSING"
	CodeSubscriptionNotFound   = "SUBSCRIPTION_NOT_FOUND"
	CodeDefaultPlanNotFree     = "DEFAULT_PLAN_NOT_FREE"
	CodeInvalidPlanDefinition  = "INVALID_PLAN_DEFINITION"
	CodeWebhookVerification    = "WEBHOOK_VERIFICATION_FAILED"
	CodeLimitExceeded          = "LIMIT_EXCEEDED"
	CodeUnknown                = "BILLING_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	// Configuration errors win over the lookup failure joined into them.
	{ErrDefaultPlanNotFree, CodeDefaultPlanNotFree},
	{ErrCustomerNotFound, CodeCustomerNotFound},
	{ErrPlanNotFound, CodePlanNotFound},
	{ErrPriceNotFound, CodePriceNotFound},
	{ErrPriceProviderIDMissing, CodePriceProviderIDMissing},
	{ErrSubscriptionNotFound, CodeSubscriptionNotFound},
	{ErrInvalidPlanDefinition, CodeInvalidPlanDefinition},
	{ErrWebhookVerificationFailed, CodeWebhookVerification},
	{ErrLimitExceeded, CodeLimitExceeded},
}

// ErrorCode returns the stable code for a billing error, or an empty string for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// IsNotFound reports whether err is one of the billing not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPriceNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}
