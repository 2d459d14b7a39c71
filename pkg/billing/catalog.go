package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitrymomot/paysync/pkg/logger"
)

// PlanDefinition is the declarative description of a plan used by catalog sync.
type PlanDefinition struct {
	Slug        string            `yaml:"slug"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Metadata    PlanMetadata      `yaml:"metadata,omitempty"`
	Prices      []PriceDefinition `yaml:"prices"`
}

// PriceDefinition is the declarative description of one plan price.
// Slug is optional; prices are matched by their billing terms.
type PriceDefinition struct {
	Slug          string            `yaml:"slug,omitempty"`
	Amount        int64             `yaml:"amount"`
	Currency      string            `yaml:"currency"`
	Interval      Interval          `yaml:"interval"`
	IntervalCount int               `yaml:"interval_count,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty"`
}

// MatchKey returns the structural identity of the desired price.
func (d PriceDefinition) MatchKey() PriceKey {
	return newPriceKey(d.Amount, d.Currency, d.Interval, d.IntervalCount)
}

func (d PriceDefinition) slugFor(planSlug string) string {
	if d.Slug != "" {
		return d.Slug
	}
	k := d.MatchKey()
	if k.IntervalCount > 1 {
		return fmt.Sprintf("%s-%d%s-%d-%s", planSlug, k.IntervalCount, k.Interval, k.Amount, k.Currency)
	}
	return fmt.Sprintf("%s-%s-%d-%s", planSlug, k.Interval, k.Amount, k.Currency)
}

// Validate checks the definition for structural mistakes before any remote call is made.
func (d PlanDefinition) Validate() error {
	if strings.TrimSpace(d.Slug) == "" {
		return errors.Join(ErrInvalidPlanDefinition, errors.New("plan slug is required"))
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("plan %s: name is required", d.Slug))
	}

	seen := make(map[PriceKey]struct{}, len(d.Prices))
	for i, p := range d.Prices {
		if p.Amount < 0 {
			return errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("plan %s: price %d has negative amount", d.Slug, i))
		}
		if strings.TrimSpace(p.Currency) == "" {
			return errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("plan %s: price %d has no currency", d.Slug, i))
		}
		if !p.Interval.Valid() {
			return errors.Join(ErrInvalidPlanDefinition, ErrInvalidInterval,
				fmt.Errorf("plan %s: price %d has interval %q", d.Slug, i, p.Interval))
		}
		if p.IntervalCount < 0 {
			return errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("plan %s: price %d has negative interval count", d.Slug, i))
		}
		key := p.MatchKey()
		if _, dup := seen[key]; dup {
			return errors.Join(ErrInvalidPlanDefinition,
				fmt.Errorf("plan %s: duplicate price %d %s per %d %s", d.Slug, key.Amount, key.Currency, key.IntervalCount, key.Interval))
		}
		seen[key] = struct{}{}
	}
	return nil
}

// SyncReport counts the writes performed by one catalog sync run.
type SyncReport struct {
	PlansCreated  int
	PlansUpdated  int
	PricesCreated int
	PricesUpdated int
	PlansFailed   []string
}

// CatalogSyncer reconciles declarative plan definitions against the provider and the store.
// It is meant to run single-flight at deploy or startup time.
type CatalogSyncer struct {
	provider Provider
	store    Store
	log      *slog.Logger
}

// NewCatalogSyncer creates a catalog syncer. Panics if provider or store is nil.
func NewCatalogSyncer(provider Provider, store Store, log *slog.Logger) *CatalogSyncer {
	if provider == nil {
		panic("billing: provider is required")
	}
	if store == nil {
		panic("billing: store is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CatalogSyncer{provider: provider, store: store, log: log}
}

// Sync upserts every desired plan and its prices.
// Plans are independent: a failure aborts only that plan, the remaining plans are
// still processed, and all failures are returned joined. A partial catalog is a
// valid, recoverable end state; rerunning Sync converges.
func (c *CatalogSyncer) Sync(ctx context.Context, plans []PlanDefinition) (SyncReport, error) {
	var report SyncReport
	var errs []error

	slugs := make(map[string]struct{}, len(plans))
	for _, def := range plans {
		if _, dup := slugs[def.Slug]; dup {
			return report, errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("duplicate plan slug %q", def.Slug))
		}
		slugs[def.Slug] = struct{}{}
	}

	for _, def := range plans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.syncPlan(ctx, def, &report); err != nil {
			c.log.ErrorContext(ctx, "Failed to sync plan",
				logger.Component("catalog"),
				logger.PlanSlug(def.Slug),
				logger.Error(err),
			)
			report.PlansFailed = append(report.PlansFailed, def.Slug)
			errs = append(errs, fmt.Errorf("failed to sync plan %s: %w", def.Slug, err))
		}
	}

	c.log.InfoContext(ctx, "Catalog sync finished",
		logger.Component("catalog"),
		slog.Int("plans_created", report.PlansCreated),
		slog.Int("plans_updated", report.PlansUpdated),
		slog.Int("prices_created", report.PricesCreated),
		slog.Int("prices_updated", report.PricesUpdated),
		slog.Int("plans_failed", len(report.PlansFailed)),
	)

	return report, errors.Join(errs...)
}

func (c *CatalogSyncer) syncPlan(ctx context.Context, def PlanDefinition, report *SyncReport) error {
	if err := def.Validate(); err != nil {
		return err
	}

	plan, err := c.upsertPlan(ctx, def, report)
	if err != nil {
		return err
	}

	existing := make(map[PriceKey]*Price, len(plan.Prices))
	for i := range plan.Prices {
		existing[plan.Prices[i].MatchKey()] = &plan.Prices[i]
	}

	for _, pd := range def.Prices {
		if match, ok := existing[pd.MatchKey()]; ok {
			if err := c.updatePrice(ctx, plan, match, pd); err != nil {
				return err
			}
			report.PricesUpdated++
			continue
		}
		if err := c.createPrice(ctx, plan, pd); err != nil {
			return err
		}
		report.PricesCreated++
	}

	return nil
}

func (c *CatalogSyncer) upsertPlan(ctx context.Context, def PlanDefinition, report *SyncReport) (*Plan, error) {
	params := planParams(def)

	plan, err := c.store.GetPlanBySlug(ctx, def.Slug)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		providerID, err := c.provider.CreatePlan(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create plan on provider: %w", err)
		}

		plan = &Plan{
			ProviderID:  providerID,
			Slug:        def.Slug,
			Name:        def.Name,
			Description: def.Description,
			Metadata:    def.Metadata.clone(),
		}
		if err := c.store.CreatePlan(ctx, plan); err != nil {
			c.log.ErrorContext(ctx, "Plan created on provider but not stored locally",
				logger.Component("catalog"),
				logger.PlanSlug(def.Slug),
				slog.String("provider_id", providerID),
				logger.Error(err),
			)
			return nil, fmt.Errorf("failed to store plan: %w", err)
		}
		plan.Prices = nil
		report.PlansCreated++
		return plan, nil

	case err != nil:
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	if plan.ProviderID == "" {
		providerID, err := c.provider.CreatePlan(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to create plan on provider: %w", err)
		}
		plan.ProviderID = providerID
	} else if err := c.provider.UpdatePlan(ctx, plan.ProviderID, params); err != nil {
		return nil, fmt.Errorf("failed to update plan on provider: %w", err)
	}

	plan.Name = def.Name
	plan.Description = def.Description
	plan.Metadata = def.Metadata.clone()
	if err := c.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to update stored plan: %w", err)
	}
	report.PlansUpdated++
	return plan, nil
}

func (c *CatalogSyncer) updatePrice(ctx context.Context, plan *Plan, price *Price, def PriceDefinition) error {
	params := priceParams(plan, def)

	if price.ProviderID == "" {
		providerID, err := c.provider.CreatePrice(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create price on provider: %w", err)
		}
		price.ProviderID = providerID
	} else if err := c.provider.UpdatePrice(ctx, price.ProviderID, params); err != nil {
		return fmt.Errorf("failed to update price %s on provider: %w", price.ProviderID, err)
	}

	price.Amount = def.Amount
	price.Currency = strings.ToLower(def.Currency)
	price.Metadata = maps.Clone(def.Metadata)
	if def.Slug != "" {
		price.Slug = def.Slug
	}
	if err := c.store.UpdatePrice(ctx, price); err != nil {
		return fmt.Errorf("failed to update stored price: %w", err)
	}
	return nil
}

func (c *CatalogSyncer) createPrice(ctx context.Context, plan *Plan, def PriceDefinition) error {
	params := priceParams(plan, def)

	providerID, err := c.provider.CreatePrice(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to create price on provider: %w", err)
	}

	key := def.MatchKey()
	price := &Price{
		ProviderID:    providerID,
		Slug:          params.Slug,
		PlanID:        plan.ID,
		Amount:        key.Amount,
		Currency:      key.Currency,
		Interval:      key.Interval,
		IntervalCount: key.IntervalCount,
		Metadata:      maps.Clone(def.Metadata),
	}
	if err := c.store.CreatePrice(ctx, price); err != nil {
		c.log.ErrorContext(ctx, "Price created on provider but not stored locally",
			logger.Component("catalog"),
			logger.PlanSlug(plan.Slug),
			slog.String("provider_id", providerID),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store price: %w", err)
	}
	plan.Prices = append(plan.Prices, *price)
	return nil
}

func planParams(def PlanDefinition) PlanParams {
	return PlanParams{
		Slug:        def.Slug,
		Name:        def.Name,
		Description: def.Description,
		Metadata:    flattenPlanMetadata(def.Slug, def.Metadata),
	}
}

func priceParams(plan *Plan, def PriceDefinition) PriceParams {
	key := def.MatchKey()
	md := maps.Clone(def.Metadata)
	if md == nil {
		md = make(map[string]string, 2)
	}
	md["plan"] = plan.Slug
	return PriceParams{
		PlanProviderID: plan.ProviderID,
		Slug:           def.slugFor(plan.Slug),
		Amount:         key.Amount,
		Currency:       key.Currency,
		Interval:       key.Interval,
		IntervalCount:  key.IntervalCount,
		Metadata:       md,
	}
}

// flattenPlanMetadata encodes structured metadata into the string map providers accept.
func flattenPlanMetadata(slug string, md PlanMetadata) map[string]string {
	out := map[string]string{"slug": slug}
	if len(md.Features) > 0 {
		out["features"] = strings.Join(md.Features, ",")
	}
	for _, resource := range slices.Sorted(maps.Keys(md.Limits)) {
		out["limit_"+resource] = strconv.FormatInt(md.Limits[resource], 10)
	}
	return out
}
