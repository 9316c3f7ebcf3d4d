// Package retry runs an operation a bounded number of times with exponential
// backoff and full jitter between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

const maxShift = 62

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. The last error is returned as is so callers can still
// match it with errors.Is.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			return err
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return err
		}
	}
	return err
}

// Delay returns a random duration in [0, min(Max, Base*2^attempt)).
func (p Policy) Delay(attempt int) time.Duration {
	d := exponential(p.Base, attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return fullJitter(d)
}

func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	multiplier := int64(1 << attempt)
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return d / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
