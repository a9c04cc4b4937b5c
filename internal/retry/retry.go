// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// MaxRetriesPerError is the number of retries after the first failure.
const MaxRetriesPerError = 3

// Policy is a bounded exponential backoff schedule without jitter, so the
// delays are exactly Initial, Initial*Multiplier, ...
type Policy struct {
	MaxRetries int
	Initial    time.Duration
	Multiplier float64
}

// DefaultPolicy retries three times after 100, 200 and 400 ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: MaxRetriesPerError, Initial: 100 * time.Millisecond, Multiplier: 2}
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt retries have used up the policy.
func (p Policy) Exhausted(attempts int) bool { return attempts >= p.MaxRetries }

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.Delay(p.MaxRetries + 1)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Retryable decides whether an error is worth another attempt.
type Retryable func(error) bool

// Transient retries classified errors that report themselves transient and
// any unclassified error.
func Transient(err error) bool {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Transient()
	}
	return true
}

// Do runs op until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, retryable Retryable, op func(ctx context.Context) error, notify func(err error, wait time.Duration)) (int, error) {
	if retryable == nil {
		retryable = Transient
	}
	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	return attempts, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
