package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitOptions configures a Limited classifier.
type LimitOptions struct {
	// RequestsPerSecond and Burst feed a token bucket. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// MaxConcurrent bounds in-flight calls. Zero means unbounded.
	MaxConcurrent int

	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a retryable failure.
	MaxRetries int

	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration

	Logger *zap.Logger
}

// Limited wraps a Classifier with rate limiting, a concurrency bound,
// per-call timeouts and bounded retries.
type Limited struct {
	next    Classifier
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	opts    LimitOptions
	logger  *zap.Logger
}

// NewLimited wraps next.
func NewLimited(next Classifier, opts LimitOptions) *Limited {
	l := &Limited{next: next, opts: opts, logger: opts.Logger}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	if l.opts.Backoff <= 0 {
		l.opts.Backoff = 500 * time.Millisecond
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

// Name implements Classifier.
func (l *Limited) Name() string { return l.next.Name() }

// Classify implements Classifier.
func (l *Limited) Classify(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		res, err = l.next.Classify(ctx, req)
		return err
	})
	return res, err
}

// Completer returns l as a Completer when the wrapped backend can answer
// free-form prompts, and nil otherwise.
func (l *Limited) Completer() Completer {
	if _, ok := l.next.(Completer); !ok {
		return nil
	}
	return l
}

// Complete implements Completer with the same limits as Classify.
func (l *Limited) Complete(ctx context.Context, p Prompt) (string, error) {
	c, ok := l.next.(Completer)
	if !ok {
		return "", fmt.Errorf("%s cannot answer free-form prompts", l.next.Name())
	}
	var text string
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		text, err = c.Complete(ctx, p)
		return err
	})
	return text, err
}

// do runs call under the concurrency bound, retrying retryable failures
// with exponential backoff.
func (l *Limited) do(ctx context.Context, call func(ctx context.Context) error) error {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer l.sem.Release(1)
	}

	delay := l.opts.Backoff
	for attempt := 0; ; attempt++ {
		err := l.attempt(ctx, call)
		if err == nil {
			return nil
		}
		if attempt >= l.opts.MaxRetries || ctx.Err() != nil || !retryable(err) {
			return err
		}

		l.logger.Debug("retrying backend call",
			zap.String("agent", l.next.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		delay *= 2
	}
}

func (l *Limited) attempt(ctx context.Context, call func(ctx context.Context) error) error {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}
	return call(ctx)
}

// retryable reports whether err is a timeout or a transient API failure.
// The caller has already checked that the parent context is alive.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
