package workflow

import (
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/services"
)

// Policy bounds retries and timeouts.
type Policy struct {
	MaxAttempts               int
	MalformedResponseAttempts int
	StageTimeout              time.Duration
	InvocationDeadline        time.Duration
	BackoffBase               time.Duration
	BackoffMax                time.Duration
}

// PolicyFromConfig reads the pipeline section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts:               cfg.Pipeline.MaxAttempts,
		MalformedResponseAttempts: cfg.Pipeline.MalformedResponseAttempts,
		StageTimeout:              cfg.StageTimeout(),
		InvocationDeadline:        cfg.InvocationDeadline(),
		BackoffBase:               cfg.BackoffBase(),
		BackoffMax:                cfg.BackoffMax(),
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.MalformedResponseAttempts <= 0 {
		p.MalformedResponseAttempts = 2
	}
	if p.MalformedResponseAttempts > p.MaxAttempts {
		p.MalformedResponseAttempts = p.MaxAttempts
	}
	if p.StageTimeout <= 0 {
		p.StageTimeout = time.Minute
	}
	if p.InvocationDeadline <= 0 {
		p.InvocationDeadline = 4 * time.Minute
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffMax < p.BackoffBase {
		p.BackoffMax = p.BackoffBase
	}
	return p
}

// Budget returns how many attempts a stage gets when its latest failure
// has the given kind.
func (p Policy) Budget(kind services.Kind) int {
	if kind == services.KindMalformedResponse {
		return p.MalformedResponseAttempts
	}
	return p.MaxAttempts
}

// BackoffDelay returns base*2^(attempt-1) capped at max.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// Backoff applies BackoffDelay with the policy bounds.
func (p Policy) Backoff(attempt int) time.Duration {
	return BackoffDelay(p.BackoffBase, p.BackoffMax, attempt)
}
