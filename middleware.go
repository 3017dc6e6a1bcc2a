package atmxgo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

var (
	_ Service = (*validationMiddleware)(nil)
)

type Middleware func(Service) Service

// Chain applies mws so that the first one is the outermost.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

// validationMiddleware rejects malformed amounts. Card numbers and PINs are
// left to the store, which reports an unknown card whatever PIN came with it.
type validationMiddleware struct {
	next Service
}

func (v *validationMiddleware) ValidateCardKey(ctx context.Context, req ValidateCardKeyReq) (string, error) {
	return v.next.ValidateCardKey(ctx, req)
}

func (v *validationMiddleware) CheckBalance(ctx context.Context, req CheckBalanceReq) (*decimal.Decimal, error) {
	return v.next.CheckBalance(ctx, req)
}

func (v *validationMiddleware) Withdraw(ctx context.Context, req WithdrawReq) (*decimal.Decimal, error) {
	switch {
	case !req.Amount.IsPositive():
		return nil, ErrBadRequest{Fields: map[string]string{"amount": "must be positive"}}
	case !req.Amount.Equal(req.Amount.Round(2)):
		return nil, ErrBadRequest{Fields: map[string]string{"amount": "more than 2 decimal places"}}
	}
	return v.next.Withdraw(ctx, req)
}

func (v *validationMiddleware) Accounts() int {
	return v.next.Accounts()
}

func NewValidationMiddleware() Middleware {
	return func(svc Service) Service {
		return &validationMiddleware{
			next: svc,
		}
	}
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by using
// a weighted semaphore, i.e., x/sync/semaphore.Weighted with an acquisition timeout.
// Requests that cannot get a token in time are shed with ErrServiceBusy instead of
// queueing behind the store lock.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	ValidateCardKey *semaphore.Weighted
	CheckBalance    *semaphore.Weighted
	Withdraw        *semaphore.Weighted
	AcquireTimeout  time.Duration
}

func NewServiceLimits(concurrency int64, acquireTimeout time.Duration) *ServiceLimits {
	return &ServiceLimits{
		ValidateCardKey: semaphore.NewWeighted(concurrency),
		CheckBalance:    semaphore.NewWeighted(concurrency),
		Withdraw:        semaphore.NewWeighted(concurrency),
		AcquireTimeout:  acquireTimeout,
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	actx, cancel := context.WithTimeout(ctx, l.limits.AcquireTimeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceBusy, err)
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) ValidateCardKey(ctx context.Context, req ValidateCardKeyReq) (string, error) {
	release, err := l.acquire(ctx, l.limits.ValidateCardKey)
	if err != nil {
		return "", err
	}
	defer release()
	return l.next.ValidateCardKey(ctx, req)
}

func (l *limitMiddleware) CheckBalance(ctx context.Context, req CheckBalanceReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.CheckBalance)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.CheckBalance(ctx, req)
}

func (l *limitMiddleware) Withdraw(ctx context.Context, req WithdrawReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Withdraw)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Withdraw(ctx, req)
}

func (l *limitMiddleware) Accounts() int {
	return l.next.Accounts()
}

type ServiceBreaker struct {
	ValidateCardKey *gobreaker.TwoStepCircuitBreaker[string]
	CheckBalance    *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Withdraw        *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
}

// NewServiceBreaker builds one breaker per operation. A breaker trips after
// consecutiveFailures infrastructure failures in a row and stays open for
// openTimeout before letting a probe through.
func NewServiceBreaker(consecutiveFailures uint32, openTimeout time.Duration, log *zerolog.Logger) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= consecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
			},
		}
	}
	return &ServiceBreaker{
		ValidateCardKey: gobreaker.NewTwoStepCircuitBreaker[string](settings("validate_card_key")),
		CheckBalance:    gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("check_balance")),
		Withdraw:        gobreaker.NewTwoStepCircuitBreaker[*decimal.Decimal](settings("withdraw")),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit breaker pattern.
// Only infrastructure failures (storage errors, shed requests) count against a
// breaker; a wrong PIN or an empty account is a successful call as far as the
// breaker is concerned. An open breaker fails fast with ErrServiceBusy.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func guard[T any](brkr *gobreaker.TwoStepCircuitBreaker[T], call func() (T, error)) (T, error) {
	done, err := brkr.Allow()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrServiceBusy, err)
	}
	res, err := call()
	done(err == nil || isApplicationError(err))
	return res, err
}

func (c *circuitBreakMiddleware) ValidateCardKey(ctx context.Context, req ValidateCardKeyReq) (string, error) {
	return guard(c.brkrs.ValidateCardKey, func() (string, error) {
		return c.next.ValidateCardKey(ctx, req)
	})
}

func (c *circuitBreakMiddleware) CheckBalance(ctx context.Context, req CheckBalanceReq) (*decimal.Decimal, error) {
	return guard(c.brkrs.CheckBalance, func() (*decimal.Decimal, error) {
		return c.next.CheckBalance(ctx, req)
	})
}

func (c *circuitBreakMiddleware) Withdraw(ctx context.Context, req WithdrawReq) (*decimal.Decimal, error) {
	return guard(c.brkrs.Withdraw, func() (*decimal.Decimal, error) {
		return c.next.Withdraw(ctx, req)
	})
}

func (c *circuitBreakMiddleware) Accounts() int {
	return c.next.Accounts()
}
