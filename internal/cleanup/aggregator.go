package cleanup

import (
	"context"
	"time"

	"docpipe/internal/common/mq"
	"docpipe/internal/events"
	"docpipe/internal/metrics"
	"docpipe/internal/retry"
	appErr "docpipe/pkg/errors"

	"github.com/zeromicro/go-zero/core/logx"
)

// AggregatorConfig wires an Aggregator.
type AggregatorConfig struct {
	// ExpectedServices is the static topology: every service subscribed to
	// deletion requests, each of which must report before an aggregate can
	// complete.
	ExpectedServices []string
	// AggregationTimeout bounds how long an aggregate may wait for missing
	// reports before it is marked timed_out. Independent of the retry TTL.
	AggregationTimeout time.Duration
	// CompletedTopic receives the aggregate completion event.
	CompletedTopic string

	Store   AggregateStore
	Queue   mq.Producer
	Metrics *metrics.Metrics
}

// Aggregator merges asynchronous cleanup progress reports into per-correlation
// aggregates and publishes one completion event per correlation id. It
// tolerates duplicate and out-of-order reports; the store serializes all
// mutation per key.
type Aggregator struct {
	cfg AggregatorConfig
	now func() time.Time
}

// NewAggregator validates the config and builds an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if len(cfg.ExpectedServices) == 0 {
		return nil, appErr.New(appErr.TopologyInvalid).WithMessage("expected services must not be empty")
	}
	if cfg.AggregationTimeout <= 0 {
		return nil, appErr.New(appErr.TopologyInvalid).WithMessage("aggregation timeout must be positive")
	}
	if cfg.CompletedTopic == "" {
		return nil, appErr.New(appErr.TopicNotConfigured).WithMessage("completed topic is required")
	}
	if cfg.Store == nil {
		return nil, appErr.ValidationError("store", "required")
	}
	if cfg.Queue == nil {
		return nil, appErr.ValidationError("queue", "required")
	}
	return &Aggregator{cfg: cfg, now: time.Now}, nil
}

// OnRequest creates the aggregate for a deletion request if it does not
// exist yet, anchoring the aggregation timeout even when no service ever
// reports. An aggregate created by an earlier progress report carries no
// source name yet; the request backfills it.
func (a *Aggregator) OnRequest(ctx context.Context, req *events.DeletionRequest) error {
	if req.CorrelationID == "" {
		return appErr.ValidationError("correlation_id", "required")
	}
	_, err := a.cfg.Store.Mutate(ctx, req.CorrelationID, func(agg *Aggregate) error {
		if !agg.Initialized() {
			*agg = *NewAggregate(req.CorrelationID, req.SourceName, a.cfg.ExpectedServices, a.now())
			return nil
		}
		if agg.SourceName == "" {
			agg.SourceName = req.SourceName
		}
		return nil
	})
	return err
}

// OnReport merges one progress report and publishes the completion event if
// the aggregate just became terminal. The publish happens inside the store's
// per-key critical section: a duplicate report observed after a successful
// publish finds the flag set and does nothing, and a failed publish aborts
// the mutation so transport redelivery retries the whole step.
func (a *Aggregator) OnReport(ctx context.Context, report *events.CleanupProgressReport) error {
	if report.CorrelationID == "" {
		return appErr.ValidationError("correlation_id", "required")
	}
	if report.ServiceName == "" {
		return appErr.ValidationError("service_name", "required")
	}

	var outcome string
	_, err := a.cfg.Store.Mutate(ctx, report.CorrelationID, func(agg *Aggregate) error {
		if !agg.Initialized() {
			// Reports may arrive before the deletion request.
			*agg = *NewAggregate(report.CorrelationID, "", a.cfg.ExpectedServices, a.now())
		}
		applied := agg.ApplyReport(report)
		if !applied && IsTerminal(agg.OverallStatus) && agg.CompletedEventPublished {
			return nil
		}
		agg.Evaluate(a.now(), a.cfg.AggregationTimeout)
		if IsTerminal(agg.OverallStatus) && !agg.CompletedEventPublished {
			if err := a.publishCompleted(ctx, agg); err != nil {
				return err
			}
			agg.CompletedEventPublished = true
			outcome = agg.OverallStatus
		}
		return nil
	})
	if err != nil {
		return err
	}
	if outcome != "" {
		a.cfg.Metrics.IncCleanupOutcome(outcome)
	}
	return nil
}

// Status returns the aggregate for a correlation id.
func (a *Aggregator) Status(ctx context.Context, correlationID string) (*Aggregate, error) {
	return a.cfg.Store.Get(ctx, correlationID)
}

// SweepTimeouts walks pending aggregates and times out those whose
// aggregation window has elapsed.
func (a *Aggregator) SweepTimeouts(ctx context.Context) error {
	ids, err := a.cfg.Store.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var outcome string
		_, err := a.cfg.Store.Mutate(ctx, id, func(agg *Aggregate) error {
			if !agg.Initialized() || IsTerminal(agg.OverallStatus) {
				return nil
			}
			if !agg.Evaluate(a.now(), a.cfg.AggregationTimeout) {
				return nil
			}
			if !agg.CompletedEventPublished {
				if err := a.publishCompleted(ctx, agg); err != nil {
					return err
				}
				agg.CompletedEventPublished = true
				outcome = agg.OverallStatus
			}
			return nil
		})
		if err != nil {
			logx.WithContext(ctx).Errorw("timeout sweep failed",
				logx.Field("correlation_id", id),
				logx.Field("error", err.Error()))
			continue
		}
		if outcome != "" {
			a.cfg.Metrics.IncCleanupOutcome(outcome)
			logx.WithContext(ctx).Infow("cleanup aggregate timed out",
				logx.Field("correlation_id", id),
				logx.Field("status", outcome))
		}
	}
	return nil
}

// RunSweeper runs SweepTimeouts on an interval until ctx is cancelled.
func (a *Aggregator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SweepTimeouts(ctx); err != nil {
				logx.WithContext(ctx).Errorw("sweeper pass failed",
					logx.Field("error", err.Error()))
			}
		}
	}
}

// HandleDeletionRequested is the domain handler for deletion request events,
// intended to be wrapped by a retry coordinator.
func (a *Aggregator) HandleDeletionRequested(ctx context.Context, event *events.Event) error {
	var req events.DeletionRequest
	if err := event.DecodeData(&req); err != nil {
		return retry.NonRetryable(err)
	}
	if err := a.OnRequest(ctx, &req); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

// HandleProgressReport is the domain handler for progress report events.
func (a *Aggregator) HandleProgressReport(ctx context.Context, event *events.Event) error {
	var report events.CleanupProgressReport
	if err := event.DecodeData(&report); err != nil {
		return retry.NonRetryable(err)
	}
	if err := a.OnReport(ctx, &report); err != nil {
		return classifyStoreErr(err)
	}
	return nil
}

// classifyStoreErr tags aggregate mutation failures. Store and publish
// trouble is transient; validation failures are permanent.
func classifyStoreErr(err error) error {
	switch appErr.GetCode(err) {
	case appErr.ValidationFailed, appErr.TopologyInvalid:
		return retry.NonRetryable(err)
	default:
		return retry.Retryable(err)
	}
}

func (a *Aggregator) publishCompleted(ctx context.Context, agg *Aggregate) error {
	ev, err := events.NewEvent(events.TypeSourceCleanupCompleted, agg.CompletedEvent())
	if err != nil {
		return appErr.Wrapf(err, appErr.EventEncodeFailed, "encode completion event failed")
	}
	body, err := ev.Encode()
	if err != nil {
		return appErr.Wrapf(err, appErr.EventEncodeFailed, "encode completion event failed")
	}
	if err := a.cfg.Queue.Publish(ctx, a.cfg.CompletedTopic, mq.NewMessage(body)); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish completion event failed")
	}
	return nil
}
