package deadletter

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one abandoned event with full diagnostic context.
type Record struct {
	ID              int64           `json:"id"`
	OriginalEvent   json.RawMessage `json:"original_event"`
	Topic           string          `json:"topic"`
	EventType       string          `json:"event_type"`
	IdempotencyKey  string          `json:"idempotency_key"`
	AttemptCount    int             `json:"attempt_count"`
	LastError       string          `json:"last_error"`
	ErrorKind       string          `json:"error_kind"`
	AbandonedReason string          `json:"abandoned_reason"`
	ServiceName     string          `json:"service_name"`
	Timestamp       time.Time       `json:"timestamp"`
	ReplayedAt      *time.Time      `json:"replayed_at,omitempty"`
}

// Sink persists abandoned events. Implementations must be safe for
// concurrent use by multiple consumer workers.
type Sink interface {
	Record(ctx context.Context, rec *Record) error
}

// Repository extends Sink with the query surface used by operators:
// inspection by idempotency key or service, and replay bookkeeping.
type Repository interface {
	Sink
	GetByID(ctx context.Context, id int64) (*Record, error)
	ListByService(ctx context.Context, serviceName string, limit, offset int) ([]*Record, int64, error)
	ListByIdempotencyKey(ctx context.Context, key string) ([]*Record, error)
	MarkReplayed(ctx context.Context, id int64, at time.Time) error
}
