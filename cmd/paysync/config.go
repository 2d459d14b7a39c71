package main

import (
	"github.com/dmitrymomot/paysync/pkg/billing"
	"github.com/dmitrymomot/paysync/pkg/email"
	"github.com/dmitrymomot/paysync/pkg/httpserver"
	"github.com/dmitrymomot/paysync/pkg/logger"
	"github.com/dmitrymomot/paysync/pkg/pg"
	"github.com/dmitrymomot/paysync/pkg/redis"
)

const (
	providerStripe = "stripe"
	providerPaddle = "paddle"

	dedupRedis    = "redis"
	dedupPostgres = "postgres"
	dedupNone     = "none"
)

type appConfig struct {
	Provider   string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	Dedup      string `env:"BILLING_WEBHOOK_DEDUP" envDefault:"redis"`
	PortalLink string `env:"BILLING_PORTAL_LINK"`
	Notify     bool   `env:"BILLING_NOTIFY_EMAILS" envDefault:"true"`
	SyncOnBoot bool   `env:"BILLING_SYNC_ON_START" envDefault:"true"`
}

// settings groups every env-driven config block the binary needs.
type settings struct {
	App     appConfig
	Log     logger.Config
	HTTP    httpserver.Config
	DB      pg.Config
	Redis   redis.Config
	Billing billing.Config
	Stripe  billing.StripeConfig
	Paddle  billing.PaddleConfig
	Email   email.Config
}
