package mqtt

import (
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
)

// RetryPolicy decides how Connect waits between failed attempts.
type RetryPolicy interface {
	// NextDelay returns the wait after the given number of consecutive
	// failures (starting at 1), or false when no further attempt is allowed.
	NextDelay(failures int) (time.Duration, bool)
}

// FixedRetry allows Attempts connection attempts with a constant Delay
// between them.
type FixedRetry struct {
	Attempts int
	Delay    time.Duration
}

// NextDelay implements RetryPolicy.
func (p FixedRetry) NextDelay(failures int) (time.Duration, bool) {
	if failures >= p.Attempts {
		return 0, false
	}
	return p.Delay, true
}

// ExponentialRetry doubles the delay after each failure starting at Base,
// capped at Max. Attempts of zero retries forever. A Base of zero or less
// is treated as one second and a Max below Base as Base.
type ExponentialRetry struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// NextDelay implements RetryPolicy. The n-th failure waits min(Max, Base*2^(n-1)).
func (p ExponentialRetry) NextDelay(failures int) (time.Duration, bool) {
	if p.Attempts > 0 && failures >= p.Attempts {
		return 0, false
	}
	base, ceiling := p.Base, p.Max
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	delay := base
	for i := 1; i < failures && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	return delay, true
}

// PolicyFromConfig builds the retry policy described by a connect section.
// Config validation guarantees Backoff is one of the known values.
func PolicyFromConfig(cfg config.ConnectPolicyConfig) RetryPolicy {
	initial := time.Duration(cfg.InitialDelay) * time.Second
	if cfg.Backoff == config.BackoffFixed {
		return FixedRetry{Attempts: cfg.MaxAttempts, Delay: initial}
	}
	return ExponentialRetry{
		Base:     initial,
		Max:      time.Duration(cfg.MaxDelay) * time.Second,
		Attempts: cfg.MaxAttempts,
	}
}
