package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"docpipe/internal/common/mq"
	"docpipe/internal/events"
	"docpipe/internal/metrics"
	"docpipe/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
)

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	published []publishedMessage
	err       error
}

func (f *fakeQueue) Publish(_ context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (f *fakeQueue) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, msg := range messages {
		if err := f.Publish(ctx, topic, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeQueue) completions(t *testing.T) []*events.CleanupCompleted {
	t.Helper()
	var out []*events.CleanupCompleted
	for _, p := range f.published {
		if p.topic != "cleanup.completed" {
			continue
		}
		ev, err := events.Decode(p.msg.Body)
		if err != nil {
			t.Fatalf("decode published event: %v", err)
		}
		var done events.CleanupCompleted
		if err := ev.DecodeData(&done); err != nil {
			t.Fatalf("decode completion payload: %v", err)
		}
		out = append(out, &done)
	}
	return out
}

func newTestAggregator(t *testing.T, queue *fakeQueue, timeout time.Duration) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(AggregatorConfig{
		ExpectedServices:   []string{"ingestion", "parsing", "chunking"},
		AggregationTimeout: timeout,
		CompletedTopic:     "cleanup.completed",
		Store:              NewMemoryStore(),
		Queue:              queue,
		Metrics:            metrics.MustNewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg
}

func progressReport(service, status string, counts map[string]int64) *events.CleanupProgressReport {
	return &events.CleanupProgressReport{
		CorrelationID:  "corr-1",
		ServiceName:    service,
		Status:         status,
		DeletionCounts: counts,
		CompletedAt:    time.Now().UTC(),
	}
}

func TestAggregatorOutOfOrderReports(t *testing.T) {
	queue := &fakeQueue{}
	agg := newTestAggregator(t, queue, time.Hour)
	ctx := context.Background()

	if err := agg.OnRequest(ctx, &events.DeletionRequest{
		SourceName:    "foo",
		CorrelationID: "corr-1",
		DeleteMode:    events.DeleteModeHard,
	}); err != nil {
		t.Fatalf("on request: %v", err)
	}

	for _, rep := range []*events.CleanupProgressReport{
		progressReport("chunking", events.CleanupStatusFailed, map[string]int64{"chunks": 0}),
		progressReport("ingestion", events.CleanupStatusCompleted, map[string]int64{"documents": 10}),
		progressReport("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 7}),
	} {
		if err := agg.OnReport(ctx, rep); err != nil {
			t.Fatalf("on report %s: %v", rep.ServiceName, err)
		}
	}

	status, err := agg.Status(ctx, "corr-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.OverallStatus != StatusPartialSuccess {
		t.Fatalf("expected partial_success, got %s", status.OverallStatus)
	}
	if status.SourceName != "foo" {
		t.Fatalf("expected source name from request, got %q", status.SourceName)
	}

	done := queue.completions(t)
	if len(done) != 1 {
		t.Fatalf("expected exactly 1 completion event, got %d", len(done))
	}
	if len(done[0].ServicesFailed) != 1 || done[0].ServicesFailed[0] != "chunking" {
		t.Fatalf("expected services_failed=[chunking], got %v", done[0].ServicesFailed)
	}
	if done[0].TotalDeletionCounts["documents"] != 10 || done[0].TotalDeletionCounts["parses"] != 7 {
		t.Fatalf("unexpected counts: %v", done[0].TotalDeletionCounts)
	}
}

func TestAggregatorBackfillsSourceNameFromLateRequest(t *testing.T) {
	queue := &fakeQueue{}
	agg := newTestAggregator(t, queue, time.Hour)
	ctx := context.Background()

	// The first report arrives before the deletion request and creates the
	// aggregate without a source name.
	if err := agg.OnReport(ctx, progressReport("ingestion", events.CleanupStatusCompleted, map[string]int64{"documents": 10})); err != nil {
		t.Fatalf("on report: %v", err)
	}
	if err := agg.OnRequest(ctx, &events.DeletionRequest{
		SourceName:    "foo",
		CorrelationID: "corr-1",
		DeleteMode:    events.DeleteModeHard,
	}); err != nil {
		t.Fatalf("on request: %v", err)
	}
	for _, svc := range []string{"parsing", "chunking"} {
		if err := agg.OnReport(ctx, progressReport(svc, events.CleanupStatusCompleted, nil)); err != nil {
			t.Fatalf("on report %s: %v", svc, err)
		}
	}

	status, err := agg.Status(ctx, "corr-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.SourceName != "foo" {
		t.Fatalf("aggregate source name = %q, want %q", status.SourceName, "foo")
	}
	done := queue.completions(t)
	if len(done) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(done))
	}
	if done[0].SourceName != "foo" {
		t.Fatalf("completion source name = %q, want %q", done[0].SourceName, "foo")
	}
}

func TestAggregatorDuplicateReportsPublishOnce(t *testing.T) {
	queue := &fakeQueue{}
	agg := newTestAggregator(t, queue, time.Hour)
	ctx := context.Background()

	reports := []*events.CleanupProgressReport{
		progressReport("ingestion", events.CleanupStatusCompleted, map[string]int64{"documents": 10}),
		progressReport("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 7}),
		progressReport("chunking", events.CleanupStatusCompleted, map[string]int64{"chunks": 3}),
	}
	for _, rep := range reports {
		if err := agg.OnReport(ctx, rep); err != nil {
			t.Fatalf("on report: %v", err)
		}
	}
	// Redeliver everything.
	for _, rep := range reports {
		if err := agg.OnReport(ctx, rep); err != nil {
			t.Fatalf("duplicate report: %v", err)
		}
	}

	status, err := agg.Status(ctx, "corr-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.OverallStatus != StatusSuccess {
		t.Fatalf("expected success, got %s", status.OverallStatus)
	}
	if status.TotalDeletionCounts["documents"] != 10 {
		t.Fatalf("duplicate double-counted: %v", status.TotalDeletionCounts)
	}
	if got := len(queue.completions(t)); got != 1 {
		t.Fatalf("completion event must publish exactly once, got %d", got)
	}
}

func TestAggregatorPublishFailureRetriedOnRedelivery(t *testing.T) {
	queue := &fakeQueue{err: errors.New("broker unreachable")}
	agg := newTestAggregator(t, queue, time.Hour)
	ctx := context.Background()

	for _, svc := range []string{"ingestion", "parsing"} {
		if err := agg.OnReport(ctx, progressReport(svc, events.CleanupStatusCompleted, nil)); err != nil {
			t.Fatalf("on report: %v", err)
		}
	}
	// The final report trips the terminal publish, which fails; the
	// mutation aborts so redelivery retries it.
	last := progressReport("chunking", events.CleanupStatusCompleted, map[string]int64{"chunks": 3})
	if err := agg.OnReport(ctx, last); err == nil {
		t.Fatalf("expected publish failure to surface")
	}

	status, err := agg.Status(ctx, "corr-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if IsTerminal(status.OverallStatus) {
		t.Fatalf("aborted mutation must not persist the terminal state")
	}

	queue.err = nil
	if err := agg.OnReport(ctx, last); err != nil {
		t.Fatalf("redelivered report: %v", err)
	}
	if got := len(queue.completions(t)); got != 1 {
		t.Fatalf("expected 1 completion after recovery, got %d", got)
	}
	status, _ = agg.Status(ctx, "corr-1")
	if status.TotalDeletionCounts["chunks"] != 3 {
		t.Fatalf("redelivered counts must apply exactly once: %v", status.TotalDeletionCounts)
	}
}

func TestAggregatorSweepTimesOut(t *testing.T) {
	queue := &fakeQueue{}
	agg := newTestAggregator(t, queue, time.Minute)
	ctx := context.Background()

	if err := agg.OnRequest(ctx, &events.DeletionRequest{
		SourceName:    "foo",
		CorrelationID: "corr-1",
	}); err != nil {
		t.Fatalf("on request: %v", err)
	}
	for _, svc := range []string{"ingestion", "parsing"} {
		if err := agg.OnReport(ctx, progressReport(svc, events.CleanupStatusCompleted, map[string]int64{"rows": 1})); err != nil {
			t.Fatalf("on report: %v", err)
		}
	}

	// Nothing times out inside the window.
	if err := agg.SweepTimeouts(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := len(queue.completions(t)); got != 0 {
		t.Fatalf("no completion expected before timeout, got %d", got)
	}

	agg.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := agg.SweepTimeouts(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	status, err := agg.Status(ctx, "corr-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.OverallStatus != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", status.OverallStatus)
	}
	done := queue.completions(t)
	if len(done) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(done))
	}
	if len(done[0].ServicesFailed) != 1 || done[0].ServicesFailed[0] != "chunking" {
		t.Fatalf("missing service must count as not completed, got %v", done[0].ServicesFailed)
	}

	// The terminal aggregate left the pending index.
	pending, err := agg.cfg.Store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending index, got %v", pending)
	}
}

func TestAggregatorHandlersClassifyErrors(t *testing.T) {
	queue := &fakeQueue{}
	agg := newTestAggregator(t, queue, time.Hour)
	ctx := context.Background()

	ev, err := events.NewEvent(events.TypeSourceCleanupProgress, map[string]string{"correlation_id": ""})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	handlerErr := agg.HandleProgressReport(ctx, ev)
	if handlerErr == nil {
		t.Fatalf("expected validation error")
	}
	if retry.Classify(handlerErr) != retry.KindNonRetryable {
		t.Fatalf("validation failure must be non-retryable, got %v", handlerErr)
	}
}
