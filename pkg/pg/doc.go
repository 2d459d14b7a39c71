// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config with bounded retries, Migrate runs
// goose migrations from an fs.FS against that pool, and Healthcheck adapts the
// pool for readiness probes. The Is* helpers classify pgx and SQLSTATE errors.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, ".", log); err != nil {
//		return err
//	}
package pg
