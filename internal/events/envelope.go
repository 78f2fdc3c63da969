package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope versions are bumped when a payload shape changes incompatibly.
const EnvelopeVersion = "1"

// Event type constants. Each type maps one-to-one onto a payload in this package.
const (
	TypeSourceDeletionRequested = "source.deletion.requested"
	TypeSourceCleanupProgress   = "source.cleanup.progress"
	TypeSourceCleanupCompleted  = "source.cleanup.completed"
)

// Event is the wire envelope shared by every message in the pipeline.
// Timestamp is set once at publish time and is never rewritten on retry;
// downstream TTL enforcement depends on it.
type Event struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

// Handler processes a decoded event. Implementations signal transient
// failures with retry.Retryable and permanent ones with retry.NonRetryable;
// plain errors are treated as permanent.
type Handler func(ctx context.Context, event *Event) error

// NewEvent builds an envelope around a JSON-marshalable payload.
func NewEvent(eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		EventType: eventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Version:   EnvelopeVersion,
		Data:      data,
	}, nil
}

// Decode parses an envelope from raw message bytes.
func Decode(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("decode event envelope: missing event_type")
	}
	return &ev, nil
}

// Encode serializes the envelope for publishing.
func (e *Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.EventType, err)
	}
	return body, nil
}

// DecodeData parses the payload into out.
func (e *Event) DecodeData(out interface{}) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", e.EventType, err)
	}
	return nil
}
