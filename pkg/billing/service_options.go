package billing

import "log/slog"

// Option configures a Service instance.
type Option func(*Service)

// WithConfig replaces the default billing policy.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger shared by every billing component.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCallbacks registers domain-event hooks.
// Calling it more than once merges the hooks in registration order.
func WithCallbacks(cb Callbacks) Option {
	return func(s *Service) {
		s.callbacks = s.callbacks.Merge(cb)
	}
}

// WithDeduplicator enables rejection of redelivered provider event ids
// before reconciliation runs.
func WithDeduplicator(d Deduplicator) Option {
	return func(s *Service) {
		s.dedup = d
	}
}

// WithDemoDataSeeder registers a best-effort hook run after customer creation.
func WithDemoDataSeeder(fn DemoDataSeeder) Option {
	return func(s *Service) {
		s.seeder = fn
	}
}
