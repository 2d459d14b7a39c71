package billing

import "time"

// Config holds deployment-level billing policy.
type Config struct {
	SubscriptionsEnabled bool   `env:"BILLING_SUBSCRIPTIONS_ENABLED" envDefault:"true"`
	DefaultPlanSlug      string `env:"BILLING_DEFAULT_PLAN"`
	TrialEnabled         bool   `env:"BILLING_TRIAL_ENABLED" envDefault:"false"`
	TrialDays            int    `env:"BILLING_TRIAL_DAYS" envDefault:"14"`

	SuccessURL string `env:"BILLING_SUCCESS_URL"`
	CancelURL  string `env:"BILLING_CANCEL_URL"`
	ReturnURL  string `env:"BILLING_PORTAL_RETURN_URL"`

	// Zero disables the per-call timeout and leaves it to the underlying client.
	ProviderTimeout time.Duration `env:"BILLING_PROVIDER_TIMEOUT" envDefault:"15s"`
	StoreTimeout    time.Duration `env:"BILLING_STORE_TIMEOUT" envDefault:"5s"`

	CatalogPath      string        `env:"BILLING_CATALOG_PATH" envDefault:"config/plans.yaml"`
	WebhookBodyLimit int64         `env:"BILLING_WEBHOOK_BODY_LIMIT" envDefault:"1048576"`
	WebhookDedupTTL  time.Duration `env:"BILLING_WEBHOOK_DEDUP_TTL" envDefault:"72h"`
}

// trialActive reports whether new customers get a trial subscription.
func (c Config) trialActive() bool {
	return c.TrialEnabled && c.TrialDays > 0
}

// onboardingPlan reports whether customer creation must attach a default plan.
func (c Config) onboardingPlan() bool {
	return c.SubscriptionsEnabled && c.DefaultPlanSlug != ""
}

// DefaultConfig returns the policy used when no Config option is supplied.
// It matches the env defaults.
func DefaultConfig() Config {
	return Config{
		SubscriptionsEnabled: true,
		TrialDays:            14,
		ProviderTimeout:      15 * time.Second,
		StoreTimeout:         5 * time.Second,
		CatalogPath:          "config/plans.yaml",
		WebhookBodyLimit:     1 << 20,
		WebhookDedupTTL:      72 * time.Hour,
	}
}
