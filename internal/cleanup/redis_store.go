package cleanup

import (
	"context"
	"encoding/json"
	"time"

	"docpipe/internal/common/cache"
	appErr "docpipe/pkg/errors"
)

const (
	aggregateKeyPrefix  = "cleanup:aggregate:"
	aggregateLockPrefix = "cleanup:lock:"
	pendingSetKey       = "cleanup:pending"
)

// RedisStoreConfig tunes the Redis aggregate store.
type RedisStoreConfig struct {
	// Retention keeps terminal aggregates readable for status queries and
	// slightly late duplicate reports before Redis expires them.
	Retention time.Duration `yaml:"retention"`
	// LockTTL bounds how long a crashed mutator can hold a key lock.
	LockTTL time.Duration `yaml:"lockTTL"`
	// LockRetryDelay is the pause between lock acquisition attempts.
	LockRetryDelay time.Duration `yaml:"lockRetryDelay"`
	// LockAttempts bounds lock acquisition attempts per mutation.
	LockAttempts int `yaml:"lockAttempts"`
}

func (c *RedisStoreConfig) applyDefaults() {
	if c.Retention == 0 {
		c.Retention = time.Hour
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.LockRetryDelay == 0 {
		c.LockRetryDelay = 50 * time.Millisecond
	}
	if c.LockAttempts == 0 {
		c.LockAttempts = 40
	}
}

// RedisStore is the AggregateStore shared by horizontally scaled aggregator
// instances. Each aggregate is a JSON blob; mutation takes a per-key lock so
// read-modify-write of the counts never races; a pending-set index feeds the
// timeout sweeper.
type RedisStore struct {
	cache cache.Cache
	cfg   RedisStoreConfig
}

// NewRedisStore creates a Redis-backed aggregate store.
func NewRedisStore(cacheClient cache.Cache, cfg RedisStoreConfig) (*RedisStore, error) {
	if cacheClient == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	cfg.applyDefaults()
	return &RedisStore{cache: cacheClient, cfg: cfg}, nil
}

// Mutate applies fn under a per-key Redis lock and persists the result.
func (s *RedisStore) Mutate(ctx context.Context, correlationID string, fn func(agg *Aggregate) error) (*Aggregate, error) {
	if correlationID == "" {
		return nil, appErr.ValidationError("correlation_id", "required")
	}

	lockKey := aggregateLockPrefix + correlationID
	if err := s.acquireLock(ctx, lockKey); err != nil {
		return nil, err
	}
	defer func() { _ = s.cache.Unlock(context.WithoutCancel(ctx), lockKey) }()

	agg, err := s.load(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		agg = &Aggregate{CorrelationID: correlationID}
	}
	if err := fn(agg); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// Get returns the aggregate, or AggregateNotFound.
func (s *RedisStore) Get(ctx context.Context, correlationID string) (*Aggregate, error) {
	agg, err := s.load(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if agg == nil || !agg.Initialized() {
		return nil, appErr.New(appErr.AggregateNotFound).WithDetail("correlation_id", correlationID)
	}
	return agg, nil
}

// ListPending returns correlation ids still awaiting a terminal state.
func (s *RedisStore) ListPending(ctx context.Context) ([]string, error) {
	ids, err := s.cache.SMembers(ctx, pendingSetKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.AggregateStoreFailed, "list pending aggregates failed")
	}
	return ids, nil
}

func (s *RedisStore) acquireLock(ctx context.Context, lockKey string) error {
	for attempt := 0; attempt < s.cfg.LockAttempts; attempt++ {
		ok, err := s.cache.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "aggregate lock failed")
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(s.cfg.LockRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return appErr.New(appErr.LockFailed).WithDetail("lock_key", lockKey)
}

func (s *RedisStore) load(ctx context.Context, correlationID string) (*Aggregate, error) {
	val, err := s.cache.Get(ctx, aggregateKeyPrefix+correlationID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.AggregateStoreFailed, "load aggregate failed")
	}
	if val == "" {
		return nil, nil
	}
	var agg Aggregate
	if err := json.Unmarshal([]byte(val), &agg); err != nil {
		return nil, appErr.Wrapf(err, appErr.AggregateStoreFailed, "decode aggregate failed")
	}
	return &agg, nil
}

func (s *RedisStore) persist(ctx context.Context, agg *Aggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return appErr.Wrapf(err, appErr.AggregateStoreFailed, "encode aggregate failed")
	}
	key := aggregateKeyPrefix + agg.CorrelationID

	if IsTerminal(agg.OverallStatus) {
		if err := s.cache.Set(ctx, key, string(data), cache.JitterTTL(s.cfg.Retention)); err != nil {
			return appErr.Wrapf(err, appErr.AggregateStoreFailed, "store aggregate failed")
		}
		if err := s.cache.SRem(ctx, pendingSetKey, agg.CorrelationID); err != nil {
			return appErr.Wrapf(err, appErr.AggregateStoreFailed, "unindex aggregate failed")
		}
		return nil
	}

	if err := s.cache.Set(ctx, key, string(data), 0); err != nil {
		return appErr.Wrapf(err, appErr.AggregateStoreFailed, "store aggregate failed")
	}
	if err := s.cache.SAdd(ctx, pendingSetKey, agg.CorrelationID); err != nil {
		return appErr.Wrapf(err, appErr.AggregateStoreFailed, "index aggregate failed")
	}
	return nil
}
