package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
	"fundx/internal/models"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // Testing if the broker recovered
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close
	SuccessThreshold int
	// Cooldown is how long to wait before moving from open to half-open
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         2 * time.Minute,
	}
}

// CircuitBreaker stops calling a broker that keeps failing.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// call runs fn under breaker protection. SDK calls that ignore ctx are
// abandoned when ctx expires and reported as ErrTimeout.
func call[T any](cb *CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.allow(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			cb.recordFailure()
			return zero, apperrors.FromContext(ctx, r.err)
		}
		cb.recordSuccess()
		return r.value, nil
	case <-ctx.Done():
		cb.recordFailure()
		return zero, apperrors.FromContext(ctx, ctx.Err())
	}
}

// orderTimeout bounds an order submission independently of the caller.
const orderTimeout = 30 * time.Second

// callToCompletion runs fn under breaker protection and always waits for its
// answer. An order that was sent may have filled, so it is never abandoned.
func callToCompletion[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		cb.recordFailure()
		return zero, err
	}
	cb.recordSuccess()
	return v, nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailureTime) < cb.config.Cooldown {
			return apperrors.ErrCircuitOpen
		}
		cb.transitionTo(CircuitHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open goes back to open
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.failures = 0
	cb.successes = 0
}

// Guarded wraps an adapter with a circuit breaker and call logging. Reads
// are retried per its RetryConfig; each attempt counts against the breaker.
type Guarded struct {
	inner   Adapter
	breaker *CircuitBreaker
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewGuarded wraps inner.
func NewGuarded(inner Adapter, config CircuitBreakerConfig, logger zerolog.Logger) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: NewCircuitBreaker(inner.Name(), config),
		logger:  logger.With().Str("broker", inner.Name()).Logger(),
	}
}

// WithRetry enables retries of read-only calls.
func (g *Guarded) WithRetry(cfg RetryConfig) *Guarded {
	g.retry = cfg
	return g
}

// Name returns the wrapped adapter's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// Capabilities returns the wrapped adapter's capabilities.
func (g *Guarded) Capabilities() Capabilities { return g.inner.Capabilities() }

// Breaker exposes the circuit breaker for status reporting.
func (g *Guarded) Breaker() *CircuitBreaker { return g.breaker }

// LatestPrices fetches prices through the breaker.
func (g *Guarded) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	start := time.Now()
	prices, err := withRetry(ctx, g.retry, func() (map[string]float64, error) {
		return call(g.breaker, ctx, func() (map[string]float64, error) {
			return g.inner.LatestPrices(ctx, symbols)
		})
	})
	logging.LogAPICall(g.logger, "GET", "latest_prices", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewBrokerError(g.Name(), "latest_prices", "", err)
	}
	return prices, nil
}

// PlaceMarketSell places the order through the breaker. Once sent, the order
// runs on its own deadline so a caller timeout cannot hide a fill.
func (g *Guarded) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewBrokerError(g.Name(), "market_sell", symbol, apperrors.FromContext(ctx, err))
	}

	orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orderTimeout)
	defer cancel()

	start := time.Now()
	res, err := callToCompletion(g.breaker, func() (*models.OrderResult, error) {
		return g.inner.PlaceMarketSell(orderCtx, symbol, qty)
	})
	logging.LogAPICall(logging.WithSymbol(g.logger, symbol), "POST", "market_sell", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewBrokerError(g.Name(), "market_sell", symbol, err)
	}
	return res, nil
}

// Positions fetches positions through the breaker.
func (g *Guarded) Positions(ctx context.Context) ([]models.BrokerPosition, error) {
	start := time.Now()
	pos, err := withRetry(ctx, g.retry, func() ([]models.BrokerPosition, error) {
		return call(g.breaker, ctx, func() ([]models.BrokerPosition, error) {
			return g.inner.Positions(ctx)
		})
	})
	logging.LogAPICall(g.logger, "GET", "positions", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewBrokerError(g.Name(), "positions", "", err)
	}
	return pos, nil
}

// Account fetches the account through the breaker.
func (g *Guarded) Account(ctx context.Context) (*models.Account, error) {
	start := time.Now()
	acct, err := withRetry(ctx, g.retry, func() (*models.Account, error) {
		return call(g.breaker, ctx, func() (*models.Account, error) {
			return g.inner.Account(ctx)
		})
	})
	logging.LogAPICall(g.logger, "GET", "account", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewBrokerError(g.Name(), "account", "", err)
	}
	return acct, nil
}
