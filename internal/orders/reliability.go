package orders

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open. Step executions see it
// as a transient outcome, so the saga's retry budget and backoff give the
// downstream service time to recover.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calls after repeated failures.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker constructs a circuit breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
		state:      circuitClosed,
	}
}

// Execute runs the given function while enforcing breaker state.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if c.state == circuitHalfOpen {
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.halfOpenFlight = false
	}

	if err == nil {
		c.state = circuitClosed
		c.failures = 0
		return nil
	}

	if c.state == circuitHalfOpen {
		c.state = circuitOpen
		c.openedAt = now
		c.failures = 0
		return err
	}

	c.failures++
	if c.failures >= c.maxFails {
		c.state = circuitOpen
		c.openedAt = now
	}
	return err
}

// RateLimiter is a token-bucket limiter.
type RateLimiter struct {
	mu    sync.Mutex
	rate  time.Duration
	burst int
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	tokens int
	last   time.Time
}

// NewRateLimiter constructs a limiter that refills one token every rate.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	limiter := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: sleepWithContext,
	}
	limiter.tokens = burst
	limiter.last = limiter.now()
	return limiter
}

// Wait blocks until a token is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		if ctx == nil {
			return nil
		}
		return ctx.Err()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) refill(now time.Time) {
	if r.rate <= 0 {
		r.tokens = r.burst
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	if add <= 0 {
		return
	}
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

// ReliablePaymentClient wraps a PaymentClient with a rate limiter and circuit
// breaker. Calls are not retried here: failures bubble up as transient step
// outcomes and the saga schedules the retry with backoff.
type ReliablePaymentClient struct {
	base    PaymentClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliablePaymentClient constructs a reliability-wrapped payment client.
func NewReliablePaymentClient(base PaymentClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliablePaymentClient {
	return &ReliablePaymentClient{base: base, limiter: limiter, breaker: breaker}
}

func (c *ReliablePaymentClient) Charge(ctx context.Context, orderID string, amount float64, idemKey string) error {
	return guard(ctx, c.limiter, c.breaker, func() error {
		return c.base.Charge(ctx, orderID, amount, idemKey)
	})
}

func (c *ReliablePaymentClient) Refund(ctx context.Context, orderID string, amount float64, idemKey string) error {
	return guard(ctx, c.limiter, c.breaker, func() error {
		return c.base.Refund(ctx, orderID, amount, idemKey)
	})
}

// ReliableInventoryClient wraps an InventoryClient with a rate limiter and
// circuit breaker.
type ReliableInventoryClient struct {
	base    InventoryClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliableInventoryClient constructs a reliability-wrapped inventory client.
func NewReliableInventoryClient(base InventoryClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableInventoryClient {
	return &ReliableInventoryClient{base: base, limiter: limiter, breaker: breaker}
}

func (c *ReliableInventoryClient) Reserve(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	return guard(ctx, c.limiter, c.breaker, func() error {
		return c.base.Reserve(ctx, orderID, sku, quantity, idemKey)
	})
}

func (c *ReliableInventoryClient) Release(ctx context.Context, orderID, sku string, quantity int, idemKey string) error {
	return guard(ctx, c.limiter, c.breaker, func() error {
		return c.base.Release(ctx, orderID, sku, quantity, idemKey)
	})
}

// ReliableNotifyClient wraps a NotifyClient with a rate limiter and circuit
// breaker.
type ReliableNotifyClient struct {
	base    NotifyClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewReliableNotifyClient constructs a reliability-wrapped notify client.
func NewReliableNotifyClient(base NotifyClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableNotifyClient {
	return &ReliableNotifyClient{base: base, limiter: limiter, breaker: breaker}
}

func (c *ReliableNotifyClient) Send(ctx context.Context, orderID, email string, idemKey string) error {
	return guard(ctx, c.limiter, c.breaker, func() error {
		return c.base.Send(ctx, orderID, email, idemKey)
	})
}

func guard(ctx context.Context, limiter *RateLimiter, breaker *CircuitBreaker, fn func() error) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if breaker != nil {
		return breaker.Execute(fn)
	}
	return fn()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
