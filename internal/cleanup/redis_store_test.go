package cleanup

import (
	"context"
	"testing"
	"time"

	"docpipe/internal/common/cache"
	appErr "docpipe/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(cache.NewRedisCacheWithClient(client), RedisStoreConfig{
		Retention: time.Hour,
	})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return store, mr
}

func TestRedisStoreMutateCreatesAndPersists(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	_, err := store.Mutate(ctx, "corr-1", func(agg *Aggregate) error {
		if agg.Initialized() {
			t.Fatalf("expected zero record on first mutation")
		}
		*agg = *NewAggregate("corr-1", "foo", []string{"ingestion", "parsing"}, created)
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	got, err := store.Get(ctx, "corr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceName != "foo" || got.OverallStatus != StatusPending {
		t.Fatalf("unexpected aggregate: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at not preserved: %s", got.CreatedAt)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != "corr-1" {
		t.Fatalf("expected pending index [corr-1], got %v", pending)
	}
}

func TestRedisStoreMutateErrorDiscardsChanges(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Mutate(ctx, "corr-1", func(agg *Aggregate) error {
		*agg = *NewAggregate("corr-1", "foo", []string{"ingestion"}, time.Now())
		return appErr.New(appErr.PublishFailed)
	})
	if !appErr.Is(err, appErr.PublishFailed) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}
	if _, err := store.Get(ctx, "corr-1"); !appErr.Is(err, appErr.AggregateNotFound) {
		t.Fatalf("aborted mutation must not persist, got %v", err)
	}
}

func TestRedisStoreTerminalLeavesPendingAndExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Mutate(ctx, "corr-1", func(agg *Aggregate) error {
		*agg = *NewAggregate("corr-1", "foo", []string{"ingestion"}, time.Now())
		agg.OverallStatus = StatusSuccess
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("terminal aggregate must leave the pending index, got %v", pending)
	}

	// Still readable inside the retention window.
	if _, err := store.Get(ctx, "corr-1"); err != nil {
		t.Fatalf("get within retention: %v", err)
	}

	// Expired after retention: garbage-collected by Redis.
	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "corr-1"); !appErr.Is(err, appErr.AggregateNotFound) {
		t.Fatalf("expected AggregateNotFound after retention, got %v", err)
	}
}

func TestRedisStoreLockHeldFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(cache.NewRedisCacheWithClient(client), RedisStoreConfig{
		LockTTL:        time.Minute,
		LockRetryDelay: time.Millisecond,
		LockAttempts:   3,
	})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	ctx := context.Background()

	// Simulate another instance holding the key lock.
	if err := mr.Set("cleanup:lock:corr-1", "1"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	_, err = store.Mutate(ctx, "corr-1", func(agg *Aggregate) error { return nil })
	if !appErr.Is(err, appErr.LockFailed) {
		t.Fatalf("expected LockFailed, got %v", err)
	}
}

func TestRedisStoreGetMissing(t *testing.T) {
	store, _ := newRedisStore(t)
	if _, err := store.Get(context.Background(), "nope"); !appErr.Is(err, appErr.AggregateNotFound) {
		t.Fatalf("expected AggregateNotFound, got %v", err)
	}
}
