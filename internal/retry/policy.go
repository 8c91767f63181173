// Package retry decides whether a failed build attempt is tried again and how
// long to wait first.
package retry

import (
	"context"
	"time"

	"git.home.luguber.info/inful/cascade/internal/config"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

// Policy is a value; copy it freely.
type Policy struct {
	Mode   config.RetryBackoffMode
	Base   time.Duration // delay before the first retry
	Cap    time.Duration
	Budget int // retries allowed after the first attempt
}

// Default is linear backoff from 1s up to 30s with two retries.
var Default = Policy{Mode: config.RetryBackoffLinear, Base: time.Second, Cap: 30 * time.Second, Budget: 2}

// FromQueueConfig reads queue.retry_*; unset or unknown values keep Default's.
func FromQueueConfig(q config.QueueConfig) Policy {
	p := Default
	if q.MaxRetries >= 0 {
		p.Budget = q.MaxRetries
	}
	if d := q.RetryInitialDelayDuration(); d > 0 {
		p.Base = d
	}
	if d := q.RetryMaxDelayDuration(); d > 0 {
		p.Cap = d
	}
	if m := config.NormalizeRetryBackoff(string(q.RetryBackoff)); m != "" {
		p.Mode = m
	}
	p.Base = min(p.Base, p.Cap)
	return p
}

// Delay is the wait before retry n, counting from 1.
func (p Policy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := p.Base
	switch p.Mode {
	case config.RetryBackoffLinear:
		d = p.Base * time.Duration(n)
	case config.RetryBackoffExponential:
		for i := 1; i < n && d < p.Cap; i++ {
			d *= 2
		}
	}
	return min(d, p.Cap)
}

// Next reports whether err, seen after retries earlier retries, is worth
// another attempt and how long to wait for it. Only transient classified
// errors qualify.
func (p Policy) Next(err error, retries int) (time.Duration, bool) {
	if err == nil || retries >= p.Budget || !ferrors.IsTransient(err) {
		return 0, false
	}
	return p.Delay(retries + 1), true
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
