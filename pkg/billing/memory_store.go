package billing

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu            sync.RWMutex
	seq           int64
	customers     map[uuid.UUID]*Customer
	plans         map[uuid.UUID]*Plan
	prices        map[uuid.UUID]*Price
	subscriptions map[uuid.UUID]*Subscription
	order         map[uuid.UUID]int64
}

// NewMemoryStore returns a Store that keeps every entity in process memory.
// Values are deep-copied on the way in and out, so callers cannot mutate stored state.
// Intended for tests and single-process development setups.
func NewMemoryStore() Store {
	return &memoryStore{
		customers:     make(map[uuid.UUID]*Customer),
		plans:         make(map[uuid.UUID]*Plan),
		prices:        make(map[uuid.UUID]*Price),
		subscriptions: make(map[uuid.UUID]*Subscription),
		order:         make(map[uuid.UUID]int64),
	}
}

func (s *memoryStore) track(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

func (s *memoryStore) CreateCustomer(_ context.Context, customer *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareID(&customer.ID)
	if _, exists := s.customers[customer.ID]; exists {
		return ErrAlreadyExists
	}
	for _, c := range s.customers {
		if customer.ProviderID != "" && c.ProviderID == customer.ProviderID {
			return ErrAlreadyExists
		}
	}
	stampCreated(&customer.CreatedAt, &customer.UpdatedAt)

	cp := customer.clone()
	cp.Subscription = nil
	s.customers[customer.ID] = cp
	s.track(customer.ID)
	return nil
}

func (s *memoryStore) UpdateCustomer(_ context.Context, customer *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return ErrCustomerNotFound
	}
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()

	cp := customer.clone()
	cp.Subscription = nil
	s.customers[customer.ID] = cp
	return nil
}

func (s *memoryStore) DeleteCustomer(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return ErrCustomerNotFound
	}
	delete(s.customers, id)
	for subID, sub := range s.subscriptions {
		if sub.CustomerID == id {
			delete(s.subscriptions, subID)
		}
	}
	return nil
}

func (s *memoryStore) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return s.withSubscription(c), nil
}

func (s *memoryStore) GetCustomerByProviderID(_ context.Context, providerID string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.ProviderID == providerID {
			return s.withSubscription(c), nil
		}
	}
	return nil, ErrCustomerNotFound
}

func (s *memoryStore) ListCustomers(_ context.Context, filter CustomerFilter) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if filter.Email != "" && c.Email != filter.Email {
			continue
		}
		result = append(result, *c.clone())
	}
	slices.SortFunc(result, func(a, b Customer) int {
		return cmp.Compare(s.order[a.ID], s.order[b.ID])
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// withSubscription must be called with the read lock held.
func (s *memoryStore) withSubscription(c *Customer) *Customer {
	cp := c.clone()
	subs := s.subscriptionsFor(SubscriptionFilter{CustomerID: c.ID, Limit: 1})
	if len(subs) > 0 {
		cp.Subscription = subs[0].clone()
	}
	return cp
}

func (s *memoryStore) CreatePlan(_ context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareID(&plan.ID)
	for _, p := range s.plans {
		if p.Slug == plan.Slug || p.ID == plan.ID {
			return ErrAlreadyExists
		}
	}
	stampCreated(&plan.CreatedAt, &plan.UpdatedAt)

	cp := plan.clone()
	cp.Prices = nil
	s.plans[plan.ID] = cp
	s.track(plan.ID)
	return nil
}

func (s *memoryStore) UpdatePlan(_ context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.plans[plan.ID]
	if !ok {
		return ErrPlanNotFound
	}
	plan.Slug = existing.Slug // slug is immutable
	plan.CreatedAt = existing.CreatedAt
	plan.UpdatedAt = time.Now().UTC()

	cp := plan.clone()
	cp.Prices = nil
	s.plans[plan.ID] = cp
	return nil
}

func (s *memoryStore) GetPlanBySlug(_ context.Context, slug string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return s.withPrices(p), nil
		}
	}
	return nil, ErrPlanNotFound
}

func (s *memoryStore) GetPlan(_ context.Context, id uuid.UUID) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return s.withPrices(p), nil
}

func (s *memoryStore) ListPlans(_ context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		result = append(result, *s.withPrices(p))
	}
	slices.SortFunc(result, func(a, b Plan) int {
		return cmp.Compare(s.order[a.ID], s.order[b.ID])
	})
	return result, nil
}

// withPrices must be called with the read lock held.
func (s *memoryStore) withPrices(p *Plan) *Plan {
	cp := p.clone()
	cp.Prices = s.pricesFor(PriceFilter{PlanID: p.ID})
	return cp
}

func (s *memoryStore) CreatePrice(_ context.Context, price *Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[price.PlanID]; !ok {
		return ErrPlanNotFound
	}
	prepareID(&price.ID)
	for _, p := range s.prices {
		if p.ID == price.ID || (price.ProviderID != "" && p.ProviderID == price.ProviderID) {
			return ErrAlreadyExists
		}
	}
	stampCreated(&price.CreatedAt, &price.UpdatedAt)

	s.prices[price.ID] = price.clone()
	s.track(price.ID)
	return nil
}

func (s *memoryStore) UpdatePrice(_ context.Context, price *Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.prices[price.ID]
	if !ok {
		return ErrPriceNotFound
	}
	price.PlanID = existing.PlanID
	price.CreatedAt = existing.CreatedAt
	price.UpdatedAt = time.Now().UTC()

	s.prices[price.ID] = price.clone()
	return nil
}

func (s *memoryStore) GetPrice(_ context.Context, id uuid.UUID) (*Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[id]
	if !ok {
		return nil, ErrPriceNotFound
	}
	return p.clone(), nil
}

func (s *memoryStore) GetPriceByProviderID(_ context.Context, providerID string) (*Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.prices {
		if p.ProviderID == providerID {
			return p.clone(), nil
		}
	}
	return nil, ErrPriceNotFound
}

func (s *memoryStore) ListPrices(_ context.Context, filter PriceFilter) ([]Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pricesFor(filter), nil
}

func (s *memoryStore) pricesFor(filter PriceFilter) []Price {
	result := make([]Price, 0)
	for _, p := range s.prices {
		if filter.PlanID != uuid.Nil && p.PlanID != filter.PlanID {
			continue
		}
		if filter.Interval != "" && p.Interval != filter.Interval {
			continue
		}
		result = append(result, *p.clone())
	}
	slices.SortFunc(result, func(a, b Price) int {
		return cmp.Compare(s.order[a.ID], s.order[b.ID])
	})
	return result
}

func (s *memoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[sub.CustomerID]; !ok {
		return ErrCustomerNotFound
	}
	if _, ok := s.prices[sub.PriceID]; !ok {
		return ErrPriceNotFound
	}
	prepareID(&sub.ID)
	for _, existing := range s.subscriptions {
		if existing.ID == sub.ID || (sub.ProviderID != "" && existing.ProviderID == sub.ProviderID) {
			return ErrAlreadyExists
		}
	}
	stampCreated(&sub.CreatedAt, &sub.UpdatedAt)

	s.subscriptions[sub.ID] = sub.clone()
	s.track(sub.ID)
	return nil
}

func (s *memoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if _, ok := s.prices[sub.PriceID]; !ok {
		return ErrPriceNotFound
	}
	sub.CustomerID = existing.CustomerID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()

	s.subscriptions[sub.ID] = sub.clone()
	return nil
}

func (s *memoryStore) GetSubscription(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.clone(), nil
}

func (s *memoryStore) GetSubscriptionByProviderID(_ context.Context, providerID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderID == providerID {
			return sub.clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *memoryStore) ListSubscriptions(_ context.Context, filter SubscriptionFilter) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionsFor(filter), nil
}

func (s *memoryStore) subscriptionsFor(filter SubscriptionFilter) []Subscription {
	result := make([]Subscription, 0)
	for _, sub := range s.subscriptions {
		if filter.CustomerID != uuid.Nil && sub.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, sub.Status) {
			continue
		}
		result = append(result, *sub.clone())
	}
	// Newest first
	slices.SortFunc(result, func(a, b Subscription) int {
		return cmp.Compare(s.order[b.ID], s.order[a.ID])
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func prepareID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func stampCreated(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}
