package db

import (
	"context"
	_ "embed"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// NewDB opens a postgres pool and pings it until it answers or the
// connect window runs out.
func NewDB(ctx context.Context, dsn string, connectTimeout time.Duration, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectTimeout

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Database not ready, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	logger.Info("Successfully connected to booking database")
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}
