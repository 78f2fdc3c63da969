package retry

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Abandon reasons recorded on dead-lettered events.
const (
	ReasonMaxAttemptsExceeded = "max_attempts_exceeded"
	ReasonTTLExceeded         = "ttl_exceeded"
	ReasonNonRetryableError   = "non_retryable_error"
)

// Config bounds how long and how often a failing event is retried.
// TTL is measured from the event's first attempt, not the most recent one.
type Config struct {
	MaxAttempts   int           `yaml:"maxAttempts"`
	BaseDelay     time.Duration `yaml:"baseDelay"`
	BackoffFactor float64       `yaml:"backoffFactor"`
	MaxDelay      time.Duration `yaml:"maxDelay"`
	TTL           time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   8,
		BaseDelay:     250 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
		TTL:           30 * time.Minute,
	}
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("baseDelay must be positive, got %s", c.BaseDelay)
	}
	if c.BackoffFactor <= 1 {
		return fmt.Errorf("backoffFactor must be > 1, got %g", c.BackoffFactor)
	}
	if c.MaxDelay <= 0 {
		return fmt.Errorf("maxDelay must be positive, got %s", c.MaxDelay)
	}
	if c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("baseDelay %s exceeds maxDelay %s", c.BaseDelay, c.MaxDelay)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	}
	return nil
}

// Policy computes backoff delays and abandon decisions. Pure apart from the
// jitter randomness.
type Policy struct {
	cfg Config
}

// NewPolicy builds a policy from a validated config.
func NewPolicy(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// NextDelay returns the delay to wait after a failed attempt, drawn uniformly
// from [0, min(baseDelay * backoffFactor^(attempt-1), maxDelay)]. Full jitter
// keeps many events that failed together from retrying together.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempt-1))
	if ceiling > float64(p.cfg.MaxDelay) || math.IsInf(ceiling, 1) {
		ceiling = float64(p.cfg.MaxDelay)
	}
	n := int64(ceiling)
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(n + 1))
}

// ShouldAbandon reports whether retrying must stop, and which bound tripped.
// The attempt count is checked before the TTL so that exhausting attempts is
// reported as such even when both bounds hold.
func (p *Policy) ShouldAbandon(attemptCount int, firstAttemptAt, now time.Time) (bool, string) {
	if attemptCount > p.cfg.MaxAttempts {
		return true, ReasonMaxAttemptsExceeded
	}
	if !firstAttemptAt.IsZero() && now.Sub(firstAttemptAt) >= p.cfg.TTL {
		return true, ReasonTTLExceeded
	}
	return false, ""
}
