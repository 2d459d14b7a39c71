// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/caarlos0/env/v11 for struct tag parsing and
// github.com/joho/godotenv for optional .env files. Each config type is parsed
// once and cached for the lifetime of the process.
//
// # Usage
//
//	type AppConfig struct {
//		Port     int    `env:"PORT" envDefault:"8080"`
//		Provider string `env:"BILLING_PROVIDER,required"`
//	}
//
//	var cfg AppConfig
//	config.MustLoad(&cfg)
//
// Additional dotenv files can be applied before the first Load:
//
//	if err := config.LoadEnv(".env.local"); err != nil {
//		// Handle error
//	}
//
// Tests that change the environment between loads call ResetCache.
package config
