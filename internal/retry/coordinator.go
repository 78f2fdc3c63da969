package retry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"docpipe/internal/common/mq"
	"docpipe/internal/deadletter"
	"docpipe/internal/events"
	"docpipe/internal/metrics"
	appErr "docpipe/pkg/errors"

	"github.com/zeromicro/go-zero/core/logx"
)

// AttemptHeader carries the attempt count across republishes. The first
// delivery has no header and counts as attempt 1.
const AttemptHeader = "x-retry-attempt"

const publishTimeout = 10 * time.Second

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	// ServiceName identifies the consuming service on metrics and
	// dead-letter records.
	ServiceName string
	// SourceTopic is recorded on dead letters so operators can replay to it.
	SourceTopic string
	// RetryTopic receives delayed republishes. The consumer must also
	// subscribe to it with the same wrapped handler.
	RetryTopic string

	Policy  *Policy
	Sink    deadletter.Sink
	Queue   mq.Producer
	Metrics *metrics.Metrics

	// KeyFunc extracts the referenced entity IDs used to build the
	// idempotency key. Defaults to the event id.
	KeyFunc func(event *events.Event) []string
}

// Coordinator wraps a domain event handler with retry semantics: retryable
// failures are republished to the retry topic after a jittered backoff, and
// exhausted or non-retryable failures go to the dead-letter sink.
//
// Retry state survives restarts because everything it needs travels with the
// message: the attempt count in a header and the first-attempt time as the
// event envelope timestamp. Nothing is recomputed locally.
type Coordinator struct {
	cfg      CoordinatorConfig
	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

// NewCoordinator validates the config and builds a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.ServiceName == "" {
		return nil, appErr.ValidationError("service_name", "required")
	}
	if cfg.RetryTopic == "" {
		return nil, appErr.New(appErr.TopicNotConfigured).WithMessage("retry topic is required")
	}
	if cfg.Policy == nil {
		return nil, appErr.New(appErr.RetryConfigInvalid).WithMessage("retry policy is required")
	}
	if cfg.Sink == nil {
		return nil, appErr.ValidationError("sink", "required")
	}
	if cfg.Queue == nil {
		return nil, appErr.ValidationError("queue", "required")
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(event *events.Event) []string {
			return []string{event.EventID}
		}
	}
	return &Coordinator{
		cfg: cfg,
		now: time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}, nil
}

// Wrap turns a domain handler into a message handler with retry semantics.
func (c *Coordinator) Wrap(handler events.Handler) mq.HandlerFunc {
	return func(ctx context.Context, msg *mq.Message) error {
		event, err := events.Decode(msg.Body)
		if err != nil {
			// An undecodable payload can never succeed on redelivery.
			return c.deadLetter(ctx, msg, &events.Event{EventType: "unknown"},
				1, undecodableKey(msg), err, KindNonRetryable, ReasonNonRetryableError)
		}

		attempt := parseAttempt(msg)
		key := BuildKey(event.EventType, c.cfg.KeyFunc(event))
		c.cfg.Metrics.IncAttempt(c.cfg.ServiceName, event.EventType)

		handlerErr := handler(ctx, event)
		if handlerErr == nil {
			c.cfg.Metrics.IncSuccess(c.cfg.ServiceName, event.EventType)
			c.cfg.Metrics.ObserveResolution(c.cfg.ServiceName, event.EventType,
				"success", c.now().Sub(event.Timestamp))
			if attempt > 1 {
				logx.WithContext(ctx).Infow("event resolved after retries",
					logx.Field("event_type", event.EventType),
					logx.Field("idempotency_key", key),
					logx.Field("attempt", attempt))
			}
			return nil
		}

		kind := Classify(handlerErr)
		if kind == KindRetryable {
			abandon, reason := c.cfg.Policy.ShouldAbandon(attempt, event.Timestamp, c.now())
			if !abandon {
				c.scheduleRetry(ctx, msg, event, attempt, key, handlerErr)
				return nil
			}
			return c.deadLetter(ctx, msg, event, attempt, key, handlerErr, kind, reason)
		}
		return c.deadLetter(ctx, msg, event, attempt, key, handlerErr, kind, ReasonNonRetryableError)
	}
}

// scheduleRetry republishes the message to the retry topic after the policy
// delay. The timer fires on its own goroutine, so consumer workers are never
// blocked waiting out a backoff.
func (c *Coordinator) scheduleRetry(ctx context.Context, msg *mq.Message, event *events.Event, attempt int, key string, cause error) {
	delay := c.cfg.Policy.NextDelay(attempt)
	next := cloneForAttempt(msg, attempt+1)
	c.cfg.Metrics.IncRetryScheduled(c.cfg.ServiceName, event.EventType)
	logx.WithContext(ctx).Infow("retry scheduled",
		logx.Field("event_type", event.EventType),
		logx.Field("idempotency_key", key),
		logx.Field("attempt", attempt),
		logx.Field("delay", delay.String()),
		logx.Field("cause", cause.Error()))

	// Detach from the handler's context: the republish must outlive this
	// delivery, but keeps the trace fields for logging.
	pubCtx := context.WithoutCancel(ctx)
	c.schedule(delay, func() {
		publishCtx, cancel := context.WithTimeout(pubCtx, publishTimeout)
		defer cancel()
		if err := c.cfg.Queue.Publish(publishCtx, c.cfg.RetryTopic, next); err != nil {
			// The transport redelivers the original message eventually;
			// surface the failure for infrastructure supervision.
			logx.WithContext(pubCtx).Errorw("retry republish failed",
				logx.Field("event_type", event.EventType),
				logx.Field("idempotency_key", key),
				logx.Field("attempt", attempt+1),
				logx.Field("error", err.Error()))
		}
	})
}

func (c *Coordinator) deadLetter(ctx context.Context, msg *mq.Message, event *events.Event, attempt int, key string, cause error, kind ErrorKind, reason string) error {
	rec := &deadletter.Record{
		OriginalEvent:   msg.Body,
		Topic:           c.cfg.SourceTopic,
		EventType:       event.EventType,
		IdempotencyKey:  key,
		AttemptCount:    attempt,
		LastError:       cause.Error(),
		ErrorKind:       string(kind),
		AbandonedReason: reason,
		ServiceName:     c.cfg.ServiceName,
		Timestamp:       c.now().UTC(),
	}
	if err := c.cfg.Sink.Record(ctx, rec); err != nil {
		// Returning the error leaves the message uncommitted, so the
		// transport redelivers and the record is retried.
		logx.WithContext(ctx).Errorw("dead letter write failed",
			logx.Field("idempotency_key", key),
			logx.Field("error", err.Error()))
		return appErr.Wrapf(err, appErr.DeadLetterWriteFail, "record dead letter failed")
	}
	c.cfg.Metrics.IncDeadLetter(c.cfg.ServiceName, event.EventType, reason)
	c.cfg.Metrics.ObserveResolution(c.cfg.ServiceName, event.EventType,
		"dead_letter", c.now().Sub(event.Timestamp))
	logx.WithContext(ctx).Errorw("event dead-lettered",
		logx.Field("event_type", event.EventType),
		logx.Field("idempotency_key", key),
		logx.Field("attempt", attempt),
		logx.Field("reason", reason),
		logx.Field("error", cause.Error()))
	return nil
}

// undecodableKey builds a stable idempotency key for a payload that never
// decoded into an event. The body hash keeps distinct garbage payloads from
// collapsing onto one key when the message carries no id.
func undecodableKey(msg *mq.Message) string {
	if msg.ID != "" {
		return "unknown:" + msg.ID
	}
	sum := sha256.Sum256(msg.Body)
	return "unknown:" + hex.EncodeToString(sum[:8])
}

func parseAttempt(msg *mq.Message) int {
	if msg.Headers == nil {
		return 1
	}
	raw, ok := msg.Headers[AttemptHeader]
	if !ok {
		return 1
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 1
	}
	return val
}

func cloneForAttempt(msg *mq.Message, attempt int) *mq.Message {
	out := &mq.Message{
		ID:         msg.ID,
		Body:       msg.Body,
		Headers:    make(map[string]string, len(msg.Headers)+1),
		Timestamp:  time.Now(),
		MaxRetries: msg.MaxRetries,
		Expiration: msg.Expiration,
	}
	for k, v := range msg.Headers {
		out.Headers[k] = v
	}
	out.Headers[AttemptHeader] = strconv.Itoa(attempt)
	return out
}
