package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/paysync/pkg/billing"
	"github.com/dmitrymomot/paysync/pkg/pg"
)

// EventLog implements billing.Deduplicator on the billing_webhook_events table.
// It suits deployments without Redis.
type EventLog struct {
	db          DBTX
	inFlightTTL time.Duration
}

var _ billing.Deduplicator = (*EventLog)(nil)

// NewEventLog returns an EventLog. A claim older than inFlightTTL is treated as
// abandoned and may be taken over; zero selects five minutes.
func NewEventLog(db DBTX, inFlightTTL time.Duration) *EventLog {
	if db == nil {
		panic("pgstore: db is required")
	}
	if inFlightTTL <= 0 {
		inFlightTTL = 5 * time.Minute
	}
	return &EventLog{db: db, inFlightTTL: inFlightTTL}
}

// Claim implements billing.Deduplicator.
func (l *EventLog) Claim(ctx context.Context, eventID string) error {
	var claimed string
	err := l.db.QueryRow(ctx, `
		INSERT INTO billing_webhook_events (event_id, state, claimed_at)
		VALUES ($1, 'processing', now())
		ON CONFLICT (event_id) DO UPDATE
		SET claimed_at = now()
		WHERE billing_webhook_events.state = 'processing'
		  AND billing_webhook_events.claimed_at < now() - make_interval(secs => $2)
		RETURNING event_id`,
		eventID, l.inFlightTTL.Seconds(),
	).Scan(&claimed)
	if err == nil {
		return nil
	}
	if !pg.IsNotFoundError(err) {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}

	var state string
	err = l.db.QueryRow(ctx, `SELECT state FROM billing_webhook_events WHERE event_id = $1`, eventID).Scan(&state)
	switch {
	case pg.IsNotFoundError(err):
		return billing.ErrEventInFlight
	case err != nil:
		return fmt.Errorf("failed to read webhook event state: %w", err)
	case state == "done":
		return billing.ErrEventAlreadyProcessed
	default:
		return billing.ErrEventInFlight
	}
}

// Complete implements billing.Deduplicator.
func (l *EventLog) Complete(ctx context.Context, eventID string) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO billing_webhook_events (event_id, state, processed_at)
		VALUES ($1, 'done', now())
		ON CONFLICT (event_id) DO UPDATE SET state = 'done', processed_at = now()`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete webhook event: %w", err)
	}
	return nil
}

// Release implements billing.Deduplicator. Completed events are left untouched.
func (l *EventLog) Release(ctx context.Context, eventID string) error {
	_, err := l.db.Exec(ctx, `DELETE FROM billing_webhook_events WHERE event_id = $1 AND state = 'processing'`, eventID)
	if err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// Prune deletes completed events processed before the cutoff and returns how many were removed.
func (l *EventLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM billing_webhook_events WHERE state = 'done' AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
