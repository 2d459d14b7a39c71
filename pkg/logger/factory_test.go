package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paysync/pkg/environment"
	"github.com/dmitrymomot/paysync/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Run("defaults to JSON", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf)).Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "test"))).Info("msg")
		assert.Equal(t, "test", decode(t, buf)["svc"])
	})

	t.Run("context value", func(t *testing.T) {
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextValue("request_id", key{}))

		log.InfoContext(context.WithValue(context.Background(), key{}, "req-1"), "msg")
		assert.Equal(t, "req-1", decode(t, buf)["request_id"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		assert.Panics(t, func() {
			logger.New(logger.WithFormat(logger.Format("xml")))
		})
	})
}

func TestWithConfig(t *testing.T) {
	t.Run("production is JSON at info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithConfig(logger.Config{Env: "prod", Service: "paysync"}))
		log.Debug("hidden")
		assert.Zero(t, buf.Len())

		log.Info("shown")
		entry := decode(t, buf)
		assert.Equal(t, "paysync", entry["service"])
		assert.Equal(t, string(environment.Production), entry["env"])
	})

	t.Run("explicit level and format win", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithConfig(logger.Config{
			Env:    "development",
			Level:  "warn",
			Format: logger.FormatJSON,
		}))
		log.Info("hidden")
		assert.Zero(t, buf.Len())

		log.Warn("shown")
		assert.Equal(t, "WARN", decode(t, buf)["level"])
	})
}
