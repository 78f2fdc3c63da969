package cleanup_test

import (
	"testing"
	"time"

	"docpipe/internal/cleanup"
	"docpipe/internal/events"
)

var topology = []string{"ingestion", "parsing", "chunking"}

func report(service, status string, counts map[string]int64) *events.CleanupProgressReport {
	return &events.CleanupProgressReport{
		CorrelationID:  "corr-1",
		ServiceName:    service,
		Status:         status,
		DeletionCounts: counts,
		CompletedAt:    time.Now().UTC(),
	}
}

func TestAggregateOutOfOrderReportsPartialSuccess(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)

	// Reports arrive in no particular order.
	agg.ApplyReport(report("chunking", events.CleanupStatusFailed, map[string]int64{"chunks": 0}))
	if agg.Evaluate(now, time.Hour) {
		t.Fatalf("aggregate must not be terminal with services missing")
	}
	agg.ApplyReport(report("ingestion", events.CleanupStatusCompleted, map[string]int64{"documents": 10}))
	agg.Evaluate(now, time.Hour)
	agg.ApplyReport(report("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 7}))
	if !agg.Evaluate(now, time.Hour) {
		t.Fatalf("aggregate must become terminal once all services reported")
	}

	if agg.OverallStatus != cleanup.StatusPartialSuccess {
		t.Fatalf("expected partial_success, got %s", agg.OverallStatus)
	}
	ev := agg.CompletedEvent()
	if len(ev.ServicesFailed) != 1 || ev.ServicesFailed[0] != "chunking" {
		t.Fatalf("expected services_failed=[chunking], got %v", ev.ServicesFailed)
	}
	if len(ev.ServicesCompleted) != 2 {
		t.Fatalf("expected 2 completed services, got %v", ev.ServicesCompleted)
	}
}

func TestAggregateDuplicateReportsNeverDoubleCount(t *testing.T) {
	t.Parallel()
	now := time.Now()
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)

	rep := report("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 7})
	if !agg.ApplyReport(rep) {
		t.Fatalf("first report must apply")
	}
	if agg.ApplyReport(rep) {
		t.Fatalf("duplicate terminal report must be discarded")
	}
	if got := agg.TotalDeletionCounts["parses"]; got != 7 {
		t.Fatalf("expected parses=7, got %d", got)
	}
}

func TestAggregateInProgressToTerminalTransition(t *testing.T) {
	t.Parallel()
	now := time.Now()
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)

	agg.ApplyReport(report("parsing", events.CleanupStatusInProgress, map[string]int64{"parses": 3}))
	if agg.OverallStatus != cleanup.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", agg.OverallStatus)
	}
	// The terminal report's deltas still merge.
	if !agg.ApplyReport(report("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 4})) {
		t.Fatalf("in_progress to terminal must apply")
	}
	if got := agg.TotalDeletionCounts["parses"]; got != 7 {
		t.Fatalf("expected parses=7, got %d", got)
	}
	// A late duplicate of the in_progress report is absorbed.
	if agg.ApplyReport(report("parsing", events.CleanupStatusInProgress, map[string]int64{"parses": 3})) {
		t.Fatalf("report after terminal per-service status must be discarded")
	}
	if got := agg.TotalDeletionCounts["parses"]; got != 7 {
		t.Fatalf("counts must not change after terminal, got %d", got)
	}
}

func TestAggregateTimeout(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	agg := cleanup.NewAggregate("corr-1", "foo", topology, created)

	agg.ApplyReport(report("ingestion", events.CleanupStatusCompleted, map[string]int64{"documents": 4}))
	agg.ApplyReport(report("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": 2}))

	if agg.Evaluate(created.Add(30*time.Second), time.Minute) {
		t.Fatalf("aggregate must not time out before the window elapses")
	}
	if !agg.Evaluate(created.Add(time.Minute), time.Minute) {
		t.Fatalf("aggregate must time out after the window")
	}
	if agg.OverallStatus != cleanup.StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", agg.OverallStatus)
	}
	ev := agg.CompletedEvent()
	if len(ev.ServicesFailed) != 1 || ev.ServicesFailed[0] != "chunking" {
		t.Fatalf("missing service must count as not completed, got %v", ev.ServicesFailed)
	}
}

func TestAggregateTerminalStatesAbsorb(t *testing.T) {
	t.Parallel()
	now := time.Now()
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)
	for _, svc := range topology {
		agg.ApplyReport(report(svc, events.CleanupStatusCompleted, map[string]int64{"rows": 1}))
	}
	if !agg.Evaluate(now, time.Hour) {
		t.Fatalf("expected terminal transition")
	}
	if agg.OverallStatus != cleanup.StatusSuccess {
		t.Fatalf("expected success, got %s", agg.OverallStatus)
	}

	if agg.ApplyReport(report("ingestion", events.CleanupStatusFailed, map[string]int64{"rows": 9})) {
		t.Fatalf("terminal aggregate must absorb further reports")
	}
	if agg.Evaluate(now.Add(time.Hour), time.Minute) {
		t.Fatalf("terminal aggregate must not transition again")
	}
	if got := agg.TotalDeletionCounts["rows"]; got != 3 {
		t.Fatalf("expected rows=3, got %d", got)
	}
}

func TestAggregateAllFailed(t *testing.T) {
	t.Parallel()
	now := time.Now()
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)
	for _, svc := range topology {
		agg.ApplyReport(report(svc, events.CleanupStatusFailed, nil))
	}
	agg.Evaluate(now, time.Hour)
	if agg.OverallStatus != cleanup.StatusFailed {
		t.Fatalf("expected failed, got %s", agg.OverallStatus)
	}
}

func TestAggregateNegativeDeltasIgnored(t *testing.T) {
	t.Parallel()
	now := time.Now()
	agg := cleanup.NewAggregate("corr-1", "foo", topology, now)
	agg.ApplyReport(report("parsing", events.CleanupStatusCompleted, map[string]int64{"parses": -5, "rows": 2}))
	if got := agg.TotalDeletionCounts["parses"]; got != 0 {
		t.Fatalf("negative delta must be ignored, got %d", got)
	}
	if got := agg.TotalDeletionCounts["rows"]; got != 2 {
		t.Fatalf("expected rows=2, got %d", got)
	}
}
