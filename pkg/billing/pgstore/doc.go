// Package pgstore persists billing customers, plans, prices and subscriptions
// in PostgreSQL through pgx, and records processed webhook events for
// deduplication.
//
// Apply the embedded schema before use:
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//	events := pgstore.NewEventLog(pool, 0)
package pgstore
