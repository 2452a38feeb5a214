package fabric

import (
	"testing"
	"time"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: time.Minute}

	// The computed backoff jitters within [delay/2, delay].
	cases := []struct {
		attempt    int
		retryAfter time.Duration
		min, max   time.Duration
	}{
		{0, 0, 5 * time.Second, 10 * time.Second},
		{1, 0, 10 * time.Second, 20 * time.Second},
		{2, 0, 20 * time.Second, 40 * time.Second},
		{3, 0, 30 * time.Second, time.Minute},
		{10, 0, 30 * time.Second, time.Minute},
		// A short Retry-After never shrinks the backoff.
		{3, 2 * time.Second, 30 * time.Second, time.Minute},
	}
	for _, tc := range cases {
		got := policy.Delay(tc.attempt, tc.retryAfter)
		if got < tc.min || got > tc.max {
			t.Fatalf("Delay(%d, %v) = %v, want within [%v, %v]", tc.attempt, tc.retryAfter, got, tc.min, tc.max)
		}
	}
}

func TestRetryPolicyDelayHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	// A Retry-After longer than the backoff is the wait, exactly.
	if got := ThrottlePolicy.Delay(0, 30*time.Second); got != 30*time.Second {
		t.Fatalf("Delay(0, 30s) = %v, want 30s", got)
	}
	if got := ThrottlePolicy.Delay(0, time.Hour); got != time.Hour {
		t.Fatalf("Delay(0, 1h) = %v, want 1h", got)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	t.Parallel()

	bounded := RetryPolicy{BaseDelay: time.Second, MaxAttempts: 3}
	if bounded.Exhausted(2) {
		t.Fatalf("attempt 2 of 3 must not be exhausted")
	}
	if !bounded.Exhausted(3) {
		t.Fatalf("attempt 3 of 3 must be exhausted")
	}

	unbounded := RetryPolicy{BaseDelay: time.Second}
	if unbounded.Exhausted(1_000_000) {
		t.Fatalf("unbounded policy must never exhaust")
	}
}
