package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/paysync/pkg/billing"
	"github.com/dmitrymomot/paysync/pkg/pg"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db DBTX
}

var _ billing.Store = (*Store)(nil)

// New returns a Store using db. Panics if db is nil.
func New(db DBTX) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

const customerColumns = `id, COALESCE(provider_id, ''), name, email, metadata, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, c *billing.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO billing_customers (id, provider_id, name, email, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING created_at, updated_at`,
		c.ID, c.ProviderID, c.Name, c.Email, meta,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapWriteError(err, billing.ErrCustomerNotFound)
}

func (s *Store) UpdateCustomer(ctx context.Context, c *billing.Customer) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		UPDATE billing_customers
		SET provider_id = NULLIF($2, ''), name = $3, email = $4, metadata = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		c.ID, c.ProviderID, c.Name, c.Email, meta,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapWriteError(err, billing.ErrCustomerNotFound)
}

func (s *Store) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM billing_customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrCustomerNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*billing.Customer, error) {
	return s.customerWhere(ctx, `id = $1`, id)
}

func (s *Store) GetCustomerByProviderID(ctx context.Context, providerID string) (*billing.Customer, error) {
	if providerID == "" {
		return nil, billing.ErrCustomerNotFound
	}
	return s.customerWhere(ctx, `provider_id = $1`, providerID)
}

func (s *Store) customerWhere(ctx context.Context, where string, arg any) (*billing.Customer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM billing_customers WHERE `+where, arg)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrCustomerNotFound)
	}

	subs, err := s.ListSubscriptions(ctx, billing.SubscriptionFilter{CustomerID: c.ID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(subs) > 0 {
		c.Subscription = &subs[0]
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context, filter billing.CustomerFilter) ([]billing.Customer, error) {
	q := newQuery(`SELECT ` + customerColumns + ` FROM billing_customers`)
	if filter.Email != "" {
		q.where("email = ?", filter.Email)
	}
	q.suffix(" ORDER BY created_at, id")
	q.limit(filter.Limit)

	rows, err := s.db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return collect(rows, scanCustomer)
}

const planColumns = `id, COALESCE(provider_id, ''), slug, name, description, metadata, created_at, updated_at`

func (s *Store) CreatePlan(ctx context.Context, p *billing.Plan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode plan metadata: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO billing_plans (id, provider_id, slug, name, description, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.ProviderID, p.Slug, p.Name, p.Description, meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapWriteError(err, billing.ErrPlanNotFound)
}

// UpdatePlan never changes the slug.
func (s *Store) UpdatePlan(ctx context.Context, p *billing.Plan) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode plan metadata: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		UPDATE billing_plans
		SET provider_id = NULLIF($2, ''), name = $3, description = $4, metadata = $5, updated_at = now()
		WHERE id = $1
		RETURNING slug, created_at, updated_at`,
		p.ID, p.ProviderID, p.Name, p.Description, meta,
	).Scan(&p.Slug, &p.CreatedAt, &p.UpdatedAt)
	return mapWriteError(err, billing.ErrPlanNotFound)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*billing.Plan, error) {
	return s.planWhere(ctx, `slug = $1`, slug)
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error) {
	return s.planWhere(ctx, `id = $1`, id)
}

func (s *Store) planWhere(ctx context.Context, where string, arg any) (*billing.Plan, error) {
	row := s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM billing_plans WHERE `+where, arg)
	p, err := scanPlan(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrPlanNotFound)
	}
	if p.Prices, err = s.ListPrices(ctx, billing.PriceFilter{PlanID: p.ID}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM billing_plans ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	plans, err := collect(rows, scanPlan)
	if err != nil {
		return nil, err
	}

	prices, err := s.ListPrices(ctx, billing.PriceFilter{})
	if err != nil {
		return nil, err
	}
	byPlan := make(map[uuid.UUID][]billing.Price, len(plans))
	for _, price := range prices {
		byPlan[price.PlanID] = append(byPlan[price.PlanID], price)
	}
	for i := range plans {
		plans[i].Prices = byPlan[plans[i].ID]
		if plans[i].Prices == nil {
			plans[i].Prices = []billing.Price{}
		}
	}
	return plans, nil
}

const priceColumns = `id, COALESCE(provider_id, ''), slug, plan_id, amount, currency, interval, interval_count, metadata, created_at, updated_at`

func (s *Store) CreatePrice(ctx context.Context, p *billing.Price) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	meta, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO billing_prices (id, provider_id, slug, plan_id, amount, currency, interval, interval_count, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.ProviderID, p.Slug, p.PlanID, p.Amount, p.Currency, string(p.Interval), max(p.IntervalCount, 1), meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapWriteError(err, billing.ErrPlanNotFound)
}

// UpdatePrice never moves a price to another plan.
func (s *Store) UpdatePrice(ctx context.Context, p *billing.Price) error {
	meta, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		UPDATE billing_prices
		SET provider_id = NULLIF($2, ''), slug = $3, amount = $4, currency = $5, interval = $6,
		    interval_count = $7, metadata = $8, updated_at = now()
		WHERE id = $1
		RETURNING plan_id, created_at, updated_at`,
		p.ID, p.ProviderID, p.Slug, p.Amount, p.Currency, string(p.Interval), max(p.IntervalCount, 1), meta,
	).Scan(&p.PlanID, &p.CreatedAt, &p.UpdatedAt)
	return mapWriteError(err, billing.ErrPriceNotFound)
}

func (s *Store) GetPrice(ctx context.Context, id uuid.UUID) (*billing.Price, error) {
	row := s.db.QueryRow(ctx, `SELECT `+priceColumns+` FROM billing_prices WHERE id = $1`, id)
	p, err := scanPrice(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrPriceNotFound)
	}
	return p, nil
}

func (s *Store) GetPriceByProviderID(ctx context.Context, providerID string) (*billing.Price, error) {
	if providerID == "" {
		return nil, billing.ErrPriceNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+priceColumns+` FROM billing_prices WHERE provider_id = $1`, providerID)
	p, err := scanPrice(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrPriceNotFound)
	}
	return p, nil
}

func (s *Store) ListPrices(ctx context.Context, filter billing.PriceFilter) ([]billing.Price, error) {
	q := newQuery(`SELECT ` + priceColumns + ` FROM billing_prices`)
	if filter.PlanID != uuid.Nil {
		q.where("plan_id = ?", filter.PlanID)
	}
	if filter.Interval != "" {
		q.where("interval = ?", string(filter.Interval))
	}
	q.suffix(" ORDER BY created_at, id")

	rows, err := s.db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	return collect(rows, scanPrice)
}

const subscriptionColumns = `id, COALESCE(provider_id, ''), customer_id, price_id, quantity, status, trial_days,
	trial_ends_at, billing_cycle_anchor, proration_behavior, metadata, canceled_at, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	meta, err := marshalJSON(sub.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO billing_subscriptions (id, provider_id, customer_id, price_id, quantity, status, trial_days,
			trial_ends_at, billing_cycle_anchor, proration_behavior, metadata, canceled_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		sub.ID, sub.ProviderID, sub.CustomerID, sub.PriceID, sub.Quantity, string(sub.Status), sub.TrialDays,
		sub.TrialEndsAt, sub.BillingCycleAnchor, string(sub.ProrationBehavior), meta, sub.CanceledAt,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil && pg.IsForeignKeyViolationError(err) {
		return foreignKeyError(err)
	}
	return mapWriteError(err, billing.ErrSubscriptionNotFound)
}

// UpdateSubscription keeps the owning customer.
func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	meta, err := marshalJSON(sub.Metadata)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx, `
		UPDATE billing_subscriptions
		SET provider_id = NULLIF($2, ''), price_id = $3, quantity = $4, status = $5, trial_days = $6,
		    trial_ends_at = $7, billing_cycle_anchor = $8, proration_behavior = $9, metadata = $10,
		    canceled_at = $11, updated_at = now()
		WHERE id = $1
		RETURNING customer_id, created_at, updated_at`,
		sub.ID, sub.ProviderID, sub.PriceID, sub.Quantity, string(sub.Status), sub.TrialDays,
		sub.TrialEndsAt, sub.BillingCycleAnchor, string(sub.ProrationBehavior), meta, sub.CanceledAt,
	).Scan(&sub.CustomerID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil && pg.IsForeignKeyViolationError(err) {
		return foreignKeyError(err)
	}
	return mapWriteError(err, billing.ErrSubscriptionNotFound)
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrSubscriptionNotFound)
	}
	return sub, nil
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerID string) (*billing.Subscription, error) {
	if providerID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM billing_subscriptions WHERE provider_id = $1`, providerID)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, mapReadError(err, billing.ErrSubscriptionNotFound)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, filter billing.SubscriptionFilter) ([]billing.Subscription, error) {
	q := newQuery(`SELECT ` + subscriptionColumns + ` FROM billing_subscriptions`)
	if filter.CustomerID != uuid.Nil {
		q.where("customer_id = ?", filter.CustomerID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q.where("status = ANY(?)", statuses)
	}
	q.suffix(" ORDER BY created_at DESC, id DESC")
	q.limit(filter.Limit)

	rows, err := s.db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return collect(rows, scanSubscription)
}

func scanCustomer(row pgx.Row) (*billing.Customer, error) {
	var (
		c    billing.Customer
		meta []byte
	)
	if err := row.Scan(&c.ID, &c.ProviderID, &c.Name, &c.Email, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanPlan(row pgx.Row) (*billing.Plan, error) {
	var (
		p    billing.Plan
		meta []byte
	)
	if err := row.Scan(&p.ID, &p.ProviderID, &p.Slug, &p.Name, &p.Description, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &p.Metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPrice(row pgx.Row) (*billing.Price, error) {
	var (
		p        billing.Price
		interval string
		meta     []byte
	)
	if err := row.Scan(&p.ID, &p.ProviderID, &p.Slug, &p.PlanID, &p.Amount, &p.Currency, &interval,
		&p.IntervalCount, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Interval = billing.Interval(interval)
	if err := unmarshalJSON(meta, &p.Metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var (
		sub       billing.Subscription
		status    string
		proration string
		meta      []byte
	)
	if err := row.Scan(&sub.ID, &sub.ProviderID, &sub.CustomerID, &sub.PriceID, &sub.Quantity, &status,
		&sub.TrialDays, &sub.TrialEndsAt, &sub.BillingCycleAnchor, &proration, &meta, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = billing.SubscriptionStatus(status)
	sub.ProrationBehavior = billing.ProrationBehavior(proration)
	if err := unmarshalJSON(meta, &sub.Metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

func marshalJSON(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

func unmarshalJSON[T any](data []byte, v *T) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode metadata: %w", err)
	}
	return nil
}

func mapReadError(err, notFound error) error {
	if pg.IsNotFoundError(err) {
		return notFound
	}
	return fmt.Errorf("failed to read billing record: %w", err)
}

func mapWriteError(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return notFound
	case pg.IsDuplicateKeyError(err):
		return errors.Join(billing.ErrAlreadyExists, err)
	case pg.IsForeignKeyViolationError(err):
		return errors.Join(notFound, err)
	default:
		return fmt.Errorf("failed to write billing record: %w", err)
	}
}

// foreignKeyError names the missing parent of a subscription row.
func foreignKeyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.Contains(pgErr.ConstraintName, "customer") {
		return errors.Join(billing.ErrCustomerNotFound, err)
	}
	return errors.Join(billing.ErrPriceNotFound, err)
}

// query assembles a SELECT with positional placeholders.
type query struct {
	base    strings.Builder
	clauses []string
	tail    string
	args    []any
}

func newQuery(base string) *query {
	q := &query{}
	q.base.WriteString(base)
	return q
}

// where appends a condition; a single "?" is replaced with the next placeholder.
func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.clauses = append(q.clauses, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
}

func (q *query) suffix(s string) {
	q.tail += s
}

func (q *query) limit(n int) {
	if n > 0 {
		q.args = append(q.args, n)
		q.tail += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
}

func (q *query) String() string {
	s := q.base.String()
	if len(q.clauses) > 0 {
		s += " WHERE " + strings.Join(q.clauses, " AND ")
	}
	return s + q.tail
}
