package cleanup

import (
	"context"
	"sync"

	appErr "docpipe/pkg/errors"
)

// AggregateStore persists cleanup aggregates keyed by correlation id.
// Mutations are serialized per key: concurrent reports for the same
// correlation id racing the read-modify-write of the counts is the primary
// correctness hazard of aggregation.
type AggregateStore interface {
	// Mutate loads the aggregate for correlationID (handing fn a zero
	// record with only the id set when none exists yet), applies fn under
	// per-key exclusion, and persists the result. When fn returns an
	// error nothing is persisted. Terminal aggregates leave the pending
	// index and are retained only for the store's retention window.
	Mutate(ctx context.Context, correlationID string, fn func(agg *Aggregate) error) (*Aggregate, error)

	// Get returns the aggregate, or an AggregateNotFound error.
	Get(ctx context.Context, correlationID string) (*Aggregate, error)

	// ListPending returns the correlation ids awaiting a terminal state,
	// for the timeout sweeper.
	ListPending(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process AggregateStore for tests and single-node runs.
type MemoryStore struct {
	mu         sync.Mutex
	aggregates map[string]*Aggregate
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{aggregates: make(map[string]*Aggregate)}
}

// Mutate applies fn under the store lock.
func (s *MemoryStore) Mutate(_ context.Context, correlationID string, fn func(agg *Aggregate) error) (*Aggregate, error) {
	if correlationID == "" {
		return nil, appErr.ValidationError("correlation_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	agg, ok := s.aggregates[correlationID]
	if !ok {
		agg = &Aggregate{CorrelationID: correlationID}
	}
	working := cloneAggregate(agg)
	if err := fn(working); err != nil {
		return nil, err
	}
	s.aggregates[correlationID] = working
	return cloneAggregate(working), nil
}

// Get returns a copy of the aggregate.
func (s *MemoryStore) Get(_ context.Context, correlationID string) (*Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[correlationID]
	if !ok || !agg.Initialized() {
		return nil, appErr.New(appErr.AggregateNotFound).WithDetail("correlation_id", correlationID)
	}
	return cloneAggregate(agg), nil
}

// ListPending returns ids of non-terminal aggregates.
func (s *MemoryStore) ListPending(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, agg := range s.aggregates {
		if !IsTerminal(agg.OverallStatus) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func cloneAggregate(a *Aggregate) *Aggregate {
	out := *a
	out.ExpectedServices = append([]string(nil), a.ExpectedServices...)
	out.PerServiceStatus = make(map[string]string, len(a.PerServiceStatus))
	for k, v := range a.PerServiceStatus {
		out.PerServiceStatus[k] = v
	}
	out.TotalDeletionCounts = make(map[string]int64, len(a.TotalDeletionCounts))
	for k, v := range a.TotalDeletionCounts {
		out.TotalDeletionCounts[k] = v
	}
	if a.CompletedAt != nil {
		at := *a.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
