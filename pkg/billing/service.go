package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/paysync/pkg/logger"
)

// Service is the billing facade held by the application's composition root.
// It owns the catalog syncer, the lifecycle orchestrator and the webhook reconciler,
// all sharing one provider, one store, one policy and one set of callbacks.
type Service struct {
	*Orchestrator

	cfg       Config
	log       *slog.Logger
	callbacks Callbacks
	dedup     Deduplicator
	seeder    DemoDataSeeder

	provider   Provider
	store      Store
	catalog    *CatalogSyncer
	reconciler *Reconciler
}

// WebhookResponse is the JSON body returned to the webhook sender.
type WebhookResponse struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// New builds a billing service. Provider and store calls are bounded by the
// configured timeouts.
func New(provider Provider, store Store, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, ErrMissingProvider
	}
	if store == nil {
		return nil, ErrMissingStore
	}

	s := &Service{
		cfg: DefaultConfig(),
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.TrialDays < 0 {
		return nil, fmt.Errorf("invalid trial days %d", s.cfg.TrialDays)
	}

	s.provider = provider
	if s.cfg.ProviderTimeout > 0 {
		s.provider = timeoutProvider{next: provider, timeout: s.cfg.ProviderTimeout}
	}
	s.store = store
	if s.cfg.StoreTimeout > 0 {
		s.store = timeoutStore{next: store, timeout: s.cfg.StoreTimeout}
	}

	s.catalog = NewCatalogSyncer(s.provider, s.store, s.log)
	s.Orchestrator = &Orchestrator{
		cfg:       s.cfg,
		provider:  s.provider,
		store:     s.store,
		log:       s.log,
		callbacks: s.callbacks,
		seeder:    s.seeder,
	}
	s.reconciler = &Reconciler{
		store:     s.store,
		log:       s.log,
		callbacks: s.callbacks,
		locks:     newKeyLock(),
	}

	return s, nil
}

// Config returns the active billing policy.
func (s *Service) Config() Config {
	return s.cfg
}

// Validate checks deployment invariants that would otherwise only surface on
// the first customer signup. It performs no provider calls.
func (s *Service) Validate(ctx context.Context) error {
	return s.ValidateDefaultPlan(ctx)
}

// Sync reconciles the given plan definitions against the provider and the store.
func (s *Service) Sync(ctx context.Context, plans []PlanDefinition) (SyncReport, error) {
	return s.catalog.Sync(ctx, plans)
}

// SyncFile loads plan definitions from a YAML file and syncs them.
// An empty path falls back to the configured catalog path.
func (s *Service) SyncFile(ctx context.Context, path string) (SyncReport, error) {
	if path == "" {
		path = s.cfg.CatalogPath
	}
	plans, err := LoadPlanDefinitionsFile(path)
	if err != nil {
		return SyncReport{}, err
	}
	return s.Sync(ctx, plans)
}

// Plans lists the local catalog with prices.
func (s *Service) Plans(ctx context.Context) ([]Plan, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// HandleWebhook verifies, deduplicates and reconciles one provider delivery.
// A non-nil error means the delivery failed and must be answered with a non-2xx status.
func (s *Service) HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	event, err := s.provider.ParseWebhook(ctx, req)
	if err != nil {
		s.log.WarnContext(ctx, "Rejected webhook delivery",
			logger.Component("webhook"),
			logger.Error(err),
		)
		return nil, err
	}
	if event == nil {
		return &WebhookResponse{StatusCode: http.StatusOK, Status: "ok", Message: "event not processed"}, nil
	}

	log := s.log.With(
		logger.Component("webhook"),
		logger.ProviderEventID(event.ID),
		logger.EventType(string(event.Type)),
	)

	claimed := false
	if s.dedup != nil && event.ID != "" {
		switch err := s.dedup.Claim(ctx, event.ID); {
		case errors.Is(err, ErrEventAlreadyProcessed):
			log.InfoContext(ctx, "Skipping duplicate webhook delivery")
			return &WebhookResponse{StatusCode: http.StatusOK, Status: "ok", Message: "duplicate event"}, nil
		case errors.Is(err, ErrEventInFlight):
			return nil, err
		case err != nil:
			// Reconciliation is idempotent on its own; proceed without the claim.
			log.WarnContext(ctx, "Webhook deduplication unavailable", logger.Error(err))
		default:
			claimed = true
		}
	}

	if err := s.reconciler.Reconcile(ctx, event); err != nil {
		log.ErrorContext(ctx, "Failed to process webhook", logger.Error(err))
		if claimed {
			if relErr := s.dedup.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
				log.ErrorContext(ctx, "Failed to release webhook claim", logger.Error(relErr))
			}
		}
		return nil, err
	}

	if claimed {
		if err := s.dedup.Complete(context.WithoutCancel(ctx), event.ID); err != nil {
			log.ErrorContext(ctx, "Failed to mark webhook as processed", logger.Error(err))
		}
	}

	log.DebugContext(ctx, "Webhook processed")
	return &WebhookResponse{StatusCode: http.StatusOK, Status: "ok", Message: "event processed"}, nil
}
