package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of one page request. Waits start at Initial
// and double up to Max, without jitter.
type RetryPolicy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:  2 * time.Second,
		Max:      20 * time.Second,
		Attempts: 5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	p = p.normalized()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.Max
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
}

// Delays returns the waits between consecutive attempts of one page.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.backOff(context.Background())
	var out []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}

// MaxWait is the longest a single page can spend in backoff sleeps.
func (p RetryPolicy) MaxWait() time.Duration {
	var total time.Duration
	for _, d := range p.Delays() {
		total += d
	}
	return total
}
