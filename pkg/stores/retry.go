package stores

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// RetryPolicy bounds retries for statements, transactions and migrations.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the sleep after the first failed attempt.
	BaseDelay time.Duration

	// Multiplier grows the delay after each failure.
	Multiplier float64

	// AttemptTimeout caps one attempt: acquiring a connection plus running
	// the work on it.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 5 attempts starting at one second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		Multiplier:     2,
		AttemptTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultRetryPolicy().AttemptTimeout
	}
	return p
}

// Delay returns the sleep after the k-th failed attempt:
// BaseDelay * Multiplier^(k-1).
func (p RetryPolicy) Delay(k int) time.Duration {
	p = p.normalized()
	if k < 1 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(k-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Budget is the worst-case wall clock of one full run: every attempt
// hitting its timeout plus every backoff sleep.
func (p RetryPolicy) Budget() time.Duration {
	p = p.normalized()
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for k := 1; k < p.MaxAttempts; k++ {
		total += p.Delay(k)
	}
	return total
}

type outcomeKind int

const (
	outcomeRetry outcomeKind = iota
	outcomeSucceed
	outcomeFail
)

// Outcome is what a single attempt reports back to the executor.
type Outcome[T any] struct {
	kind  outcomeKind
	value T
	err   error
}

// Succeed ends the run with a value.
func Succeed[T any](v T) Outcome[T] { return Outcome[T]{kind: outcomeSucceed, value: v} }

// Retry asks for another attempt if the policy allows one.
func Retry[T any](err error) Outcome[T] { return Outcome[T]{kind: outcomeRetry, err: err} }

// Fail ends the run without further attempts.
func Fail[T any](err error) Outcome[T] { return Outcome[T]{kind: outcomeFail, err: err} }

// AttemptFunc runs one attempt. attempt starts at 1. ctx carries the
// per-attempt deadline.
type AttemptFunc[T any] func(ctx context.Context, attempt int) Outcome[T]

// Executor applies a RetryPolicy and the strict/permissive fork.
//
// In strict mode an exhausted run returns a *StoreError. In permissive mode
// it logs the failure and returns the zero value with a nil error, so the
// service keeps running without a database. Configuration errors are
// returned in both modes.
type Executor struct {
	policy  RetryPolicy
	strict  bool
	timer   backoff.Timer
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewExecutor creates an executor.
func NewExecutor(policy RetryPolicy, strict bool, logger *telemetry.Logger, metrics *telemetry.Metrics) *Executor {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Executor{
		policy:  policy.normalized(),
		strict:  strict,
		logger:  logger,
		metrics: metrics,
	}
}

// Policy returns the normalized policy.
func (e *Executor) Policy() RetryPolicy { return e.policy }

// Strict reports whether exhausted runs propagate errors.
func (e *Executor) Strict() bool { return e.strict }

// strictCopy returns an executor that always propagates. Internal steps
// such as attaching a pool need the real error to decide on fallback.
func (e *Executor) strictCopy() *Executor {
	c := *e
	c.strict = true
	return &c
}

// SetTimer replaces the backoff timer. Tests use it to record delays.
func (e *Executor) SetTimer(t backoff.Timer) { e.timer = t }

// RunWithRetry invokes fn until it succeeds, fails terminally, or the
// policy is exhausted. Between attempts it sleeps Policy.Delay(k).
func RunWithRetry[T any](ctx context.Context, e *Executor, op string, kind ErrorKind, fn AttemptFunc[T]) (T, error) {
	var zero T
	p := e.policy

	runCtx, cancel := context.WithTimeout(ctx, p.Budget())
	defer cancel()

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Delay(p.MaxAttempts),
		MaxElapsedTime:      p.Budget(),
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), runCtx)

	var (
		attempts int
		value    T
	)
	operation := func() error {
		attempts++
		e.metrics.RecordAttempt(op)

		attemptCtx, cancelAttempt := context.WithTimeout(runCtx, p.AttemptTimeout)
		defer cancelAttempt()

		out := fn(attemptCtx, attempts)
		switch out.kind {
		case outcomeSucceed:
			value = out.value
			return nil
		case outcomeFail:
			return backoff.Permanent(out.err)
		default:
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			return out.err
		}
	}
	notify := func(err error, next time.Duration) {
		e.metrics.RecordRetry(op)
		e.logger.WithError(err).
			WithField("op", op).
			Errorf("Database %s error (attempt %d/%d), retrying in %s", op, attempts, p.MaxAttempts, next)
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, e.timer)
	if err == nil {
		return value, nil
	}

	if KindOf(err) == KindConfiguration {
		return zero, err
	}

	e.metrics.RecordExhausted(op, string(kind))
	serr := &StoreError{
		Kind:     kind,
		Op:       op,
		Attempts: attempts,
		Message:  "failed after maximum retries",
		Err:      err,
	}
	if e.strict {
		return zero, serr
	}
	e.logger.WithError(err).
		WithField("op", op).
		Errorf("Database %s failed after %d attempts, returning empty result", op, attempts)
	return zero, nil
}
