package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/paysync/pkg/billing"
	"github.com/dmitrymomot/paysync/pkg/billing/pgstore"
	"github.com/dmitrymomot/paysync/pkg/config"
	"github.com/dmitrymomot/paysync/pkg/email"
	"github.com/dmitrymomot/paysync/pkg/environment"
	"github.com/dmitrymomot/paysync/pkg/httpserver"
	"github.com/dmitrymomot/paysync/pkg/logger"
	"github.com/dmitrymomot/paysync/pkg/pg"
	"github.com/dmitrymomot/paysync/pkg/redis"
	"github.com/dmitrymomot/paysync/pkg/requestid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("paysync stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg settings
	for _, load := range []func() error{
		func() error { return config.Load(&cfg.App) },
		func() error { return config.Load(&cfg.Log) },
		func() error { return config.Load(&cfg.HTTP) },
		func() error { return config.Load(&cfg.DB) },
		func() error { return config.Load(&cfg.Redis) },
		func() error { return config.Load(&cfg.Billing) },
		func() error { return config.Load(&cfg.Stripe) },
		func() error { return config.Load(&cfg.Paddle) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	env := environment.Parse(cfg.Log.Env)
	log := logger.New(
		logger.WithConfig(cfg.Log),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)
	ctx = environment.WithContext(ctx, env)

	pool, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.DB, pgstore.Migrations, pgstore.MigrationsDir, log); err != nil {
		return err
	}
	store := pgstore.New(pool)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	checks := []httpserver.Check{{Name: "postgres", Func: pg.Healthcheck(pool)}}
	opts := []billing.Option{
		billing.WithConfig(cfg.Billing),
		billing.WithLogger(log),
	}

	switch cfg.App.Dedup {
	case dedupRedis:
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer closeRedis(client, log)
		checks = append(checks, httpserver.Check{Name: "redis", Func: redis.Healthcheck(client)})
		opts = append(opts, billing.WithDeduplicator(
			billing.NewRedisDeduplicator(client, billing.WithDedupTTL(cfg.Billing.WebhookDedupTTL)),
		))
	case dedupPostgres:
		events := pgstore.NewEventLog(pool, 0)
		opts = append(opts, billing.WithDeduplicator(events))
		go pruneEvents(ctx, events, cfg.Billing.WebhookDedupTTL, eventPruneInterval, log)
	case dedupNone:
	default:
		return fmt.Errorf("unknown BILLING_WEBHOOK_DEDUP %q", cfg.App.Dedup)
	}

	if cfg.App.Notify {
		if err := config.Load(&cfg.Email); err != nil {
			return err
		}
		sender, err := email.NewFromConfig(cfg.Email)
		if err != nil {
			return err
		}
		notifier := billing.NewEmailNotifier(sender, store, log, cfg.App.PortalLink)
		opts = append(opts, billing.WithCallbacks(notifier.Callbacks()))
	}

	svc, err := billing.New(provider, store, opts...)
	if err != nil {
		return err
	}

	if cfg.App.SyncOnBoot {
		report, err := svc.SyncFile(ctx, "")
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "Catalog synced",
			logger.Component("catalog"),
			slog.Int("plans_created", report.PlansCreated),
			slog.Int("plans_updated", report.PlansUpdated),
			slog.Int("prices_created", report.PricesCreated),
			slog.Int("prices_updated", report.PricesUpdated),
			slog.Any("plans_failed", report.PlansFailed),
		)
	}
	if err := svc.Validate(ctx); err != nil {
		return err
	}

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, newRouter(svc, env, log, checks))
}

func newProvider(cfg settings) (billing.Provider, error) {
	switch cfg.App.Provider {
	case providerStripe:
		p, err := billing.NewStripeProvider(cfg.Stripe)
		if err != nil {
			return nil, err
		}
		return p, nil
	case providerPaddle:
		p, err := billing.NewPaddleProvider(cfg.Paddle)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.New("BILLING_PROVIDER must be stripe or paddle")
	}
}

func closeRedis(client *goredis.Client, log *slog.Logger) {
	if err := client.Close(); err != nil {
		log.Error("Failed to close redis client", logger.Error(err))
	}
}
