package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/paysync/pkg/pg"
)

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		assert.True(t, pg.IsNotFoundError(fmt.Errorf("query: %w", pgx.ErrNoRows)))
		assert.False(t, pg.IsNotFoundError(errors.New("other")))
		assert.False(t, pg.IsNotFoundError(nil))
	})

	t.Run("duplicate key", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
		assert.True(t, pg.IsDuplicateKeyError(err))
		assert.False(t, pg.IsForeignKeyViolationError(err))
		assert.False(t, pg.IsDuplicateKeyError(nil))
	})

	t.Run("foreign key", func(t *testing.T) {
		t.Parallel()
		err := &pgconn.PgError{Code: "23503"}
		assert.True(t, pg.IsForeignKeyViolationError(err))
		assert.False(t, pg.IsDuplicateKeyError(err))
	})
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty connection string", func(t *testing.T) {
		t.Parallel()
		_, err := pg.Connect(context.Background(), pg.Config{})
		assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)
	})

	t.Run("malformed connection string", func(t *testing.T) {
		t.Parallel()
		_, err := pg.Connect(context.Background(), pg.Config{ConnectionString: "postgres://%zz"})
		assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)
	})
}

func TestMigrateRequiresFS(t *testing.T) {
	t.Parallel()
	err := pg.Migrate(context.Background(), nil, pg.Config{}, nil, ".", nil)
	assert.ErrorIs(t, err, pg.ErrFailedToApplyMigrations)
	assert.ErrorIs(t, err, pg.ErrMigrationsNotProvided)
}
