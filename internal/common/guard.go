package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrStoreUnavailable is returned once a transient store failure outlives
// the retry budget.
var ErrStoreUnavailable = errors.New("store unavailable")

// GuardSettings configures a Guard.
type GuardSettings struct {
	Name        string
	MaxRetries  uint64
	InitialWait time.Duration
	MaxWait     time.Duration
	// IsTransient reports errors worth retrying. Only those count against
	// the breaker; domain errors such as not-found pass straight through.
	IsTransient func(error) bool
	Logger      *zap.Logger
}

// Guard runs store calls behind a circuit breaker and retries transient
// failures with exponential backoff.
type Guard struct {
	breaker     *CircuitBreaker
	maxRetries  uint64
	initialWait time.Duration
	maxWait     time.Duration
	isTransient func(error) bool
	logger      *zap.Logger
}

func NewGuard(s GuardSettings) *Guard {
	if s.IsTransient == nil {
		s.IsTransient = func(error) bool { return false }
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.InitialWait == 0 {
		s.InitialWait = 50 * time.Millisecond
	}
	if s.MaxWait == 0 {
		s.MaxWait = time.Second
	}
	logger := s.Logger.Named("guard")
	isTransient := s.IsTransient

	cbSettings := DefaultSettings(s.Name)
	cbSettings.IsSuccessful = func(err error) bool { return err == nil || !isTransient(err) }
	cbSettings.OnStateChange = func(name string, from State, to State) {
		logger.Warn("circuit breaker state changed",
			zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
	}

	return &Guard{
		breaker:     NewCircuitBreaker(cbSettings),
		maxRetries:  s.MaxRetries,
		initialWait: s.InitialWait,
		maxWait:     s.MaxWait,
		isTransient: isTransient,
		logger:      logger,
	}
}

// Breaker exposes the underlying circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Do runs op. Non-transient errors and breaker rejections are returned at
// once. Transient errors are retried and, when retries run out, reported as
// ErrStoreUnavailable.
func (g *Guard) Do(ctx context.Context, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(g.initialWait),
		backoff.WithMaxInterval(g.maxWait),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, g.maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		err := g.breaker.Execute(func() error { return op(ctx) })
		if err == nil {
			return nil
		}
		if IsCircuitBreakerError(err) || !g.isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		g.logger.Warn("transient store failure, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err == nil {
		return nil
	}
	if g.isTransient(err) {
		return errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return err
}
