package fabric

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/fabworks/fabdeploy/faults"
)

// RetryPolicy declares how one class of retryable failure backs off. The
// policies are data, not behavior, so the client's wait loop stays in one
// place and tests can substitute fast variants.
type RetryPolicy struct {
	// BaseDelay seeds the exponential backoff: attempt n waits
	// BaseDelay * 2^n, capped by MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps any single wait. Zero means uncapped.
	MaxDelay time.Duration

	// MaxAttempts bounds the retries. Zero means retry until the context
	// is cancelled; throttling uses that, since the service's Retry-After
	// is authoritative and giving up early only loses work.
	MaxAttempts int
}

// Policies used by the endpoint client. Exposed as fields on Endpoint
// options so tests can shrink the delays.
var (
	// ThrottlePolicy backs 429 responses. Unbounded: the service tells us
	// when to come back.
	ThrottlePolicy = RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute}

	// TransientPolicy backs network failures and expired-token replays.
	TransientPolicy = RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 2 * time.Minute, MaxAttempts: 5}

	// NameReservedPolicy backs recreating an item whose display name is
	// still reserved by a just-deleted predecessor. The reservation can
	// take minutes to lapse.
	NameReservedPolicy = RetryPolicy{BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute, MaxAttempts: 5}

	// PollPolicy paces long-running-operation status checks when the
	// response carries no Retry-After.
	PollPolicy = RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
)

// Delay computes the wait before retry number attempt (zero-based): an
// exponential backoff with jitter, never shorter than a server-provided
// Retry-After. The service knows when it will accept the next request;
// coming back earlier just earns another rejection.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay > 0 {
		// Jitter into [delay/2, delay] so concurrent publishers spread out.
		delay = delay/2 + rand.N(delay/2+1)
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// Exhausted reports whether attempt (zero-based) exceeds the policy budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return faults.New(faults.InputError, "deployment cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}
