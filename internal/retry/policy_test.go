package retry_test

import (
	"math"
	"testing"
	"time"

	"docpipe/internal/retry"
)

func testConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
		TTL:           time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *retry.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *retry.Config) {}, wantErr: false},
		{name: "zero-attempts", mutate: func(c *retry.Config) { c.MaxAttempts = 0 }, wantErr: true},
		{name: "factor-one", mutate: func(c *retry.Config) { c.BackoffFactor = 1.0 }, wantErr: true},
		{name: "base-above-max", mutate: func(c *retry.Config) { c.BaseDelay = 2 * time.Minute }, wantErr: true},
		{name: "zero-ttl", mutate: func(c *retry.Config) { c.TTL = 0 }, wantErr: true},
		{name: "negative-base", mutate: func(c *retry.Config) { c.BaseDelay = -time.Second }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := retry.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := retry.DefaultConfig()
	if cfg.MaxAttempts != 8 {
		t.Fatalf("expected 8 max attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms base delay, got %s", cfg.BaseDelay)
	}
	if cfg.BackoffFactor != 2.0 {
		t.Fatalf("expected factor 2.0, got %g", cfg.BackoffFactor)
	}
	if cfg.MaxDelay != 60*time.Second {
		t.Fatalf("expected 60s max delay, got %s", cfg.MaxDelay)
	}
	if cfg.TTL != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", cfg.TTL)
	}
}

func TestNextDelayBounds(t *testing.T) {
	t.Parallel()
	policy, err := retry.NewPolicy(testConfig())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	cfg := testConfig()
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		ceiling := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
		if ceiling > cfg.MaxDelay {
			ceiling = cfg.MaxDelay
		}
		// Full jitter draws are random, so sample repeatedly.
		for i := 0; i < 200; i++ {
			got := policy.NextDelay(attempt)
			if got < 0 {
				t.Fatalf("attempt %d: negative delay %s", attempt, got)
			}
			if got > ceiling {
				t.Fatalf("attempt %d: delay %s exceeds ceiling %s", attempt, got, ceiling)
			}
		}
	}
}

func TestNextDelayCappedByMaxDelay(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxDelay = 150 * time.Millisecond
	policy, err := retry.NewPolicy(cfg)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	for i := 0; i < 200; i++ {
		if got := policy.NextDelay(50); got > cfg.MaxDelay {
			t.Fatalf("delay %s exceeds max %s", got, cfg.MaxDelay)
		}
	}
}

func TestShouldAbandon(t *testing.T) {
	t.Parallel()
	policy, err := retry.NewPolicy(testConfig())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		attempt    int
		firstAt    time.Time
		now        time.Time
		want       bool
		wantReason string
	}{
		{name: "within-bounds", attempt: 2, firstAt: base, now: base.Add(10 * time.Second), want: false},
		{name: "at-max-attempts", attempt: 3, firstAt: base, now: base.Add(10 * time.Second), want: false},
		{name: "over-max-attempts", attempt: 4, firstAt: base, now: base.Add(10 * time.Second), want: true, wantReason: retry.ReasonMaxAttemptsExceeded},
		{name: "ttl-elapsed", attempt: 2, firstAt: base, now: base.Add(time.Minute), want: true, wantReason: retry.ReasonTTLExceeded},
		{name: "ttl-just-under", attempt: 2, firstAt: base, now: base.Add(time.Minute - time.Millisecond), want: false},
		{name: "both-bounds-prefers-attempts", attempt: 5, firstAt: base, now: base.Add(2 * time.Minute), want: true, wantReason: retry.ReasonMaxAttemptsExceeded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, reason := policy.ShouldAbandon(tt.attempt, tt.firstAt, tt.now)
			if got != tt.want {
				t.Fatalf("expected abandon=%v, got %v", tt.want, got)
			}
			if reason != tt.wantReason {
				t.Fatalf("expected reason %q, got %q", tt.wantReason, reason)
			}
		})
	}
}
