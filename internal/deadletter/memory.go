package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"

	appErr "docpipe/pkg/errors"
)

// MemoryRepository is an in-memory Repository for tests and single-node runs.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Record
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1, records: make(map[int64]*Record)}
}

// Record stores a copy of rec and assigns its id.
func (r *MemoryRepository) Record(_ context.Context, rec *Record) error {
	if rec == nil {
		return appErr.ValidationError("record", "required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	stored := *rec
	stored.ID = r.nextID
	r.nextID++
	r.records[stored.ID] = &stored
	rec.ID = stored.ID
	return nil
}

// GetByID returns one record by its id.
func (r *MemoryRepository) GetByID(_ context.Context, id int64) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, appErr.New(appErr.DeadLetterNotFound).WithDetail("id", id)
	}
	out := *rec
	return &out, nil
}

// ListByService returns records for a service, newest first.
func (r *MemoryRepository) ListByService(_ context.Context, serviceName string, limit, offset int) ([]*Record, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Record
	for _, rec := range r.records {
		if rec.ServiceName == serviceName {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Record, 0, end-offset)
	for _, rec := range matched[offset:end] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, total, nil
}

// ListByIdempotencyKey returns every record sharing a key, oldest first.
func (r *MemoryRepository) ListByIdempotencyKey(_ context.Context, key string) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Record
	for _, rec := range r.records {
		if rec.IdempotencyKey == key {
			cp := *rec
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched, nil
}

// MarkReplayed records the replay time for one record.
func (r *MemoryRepository) MarkReplayed(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return appErr.New(appErr.DeadLetterNotFound).WithDetail("id", id)
	}
	rec.ReplayedAt = &at
	return nil
}
