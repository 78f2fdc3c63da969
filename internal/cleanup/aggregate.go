package cleanup

import (
	"sort"
	"time"

	"docpipe/internal/events"
)

// Overall aggregate statuses. The four terminal values are absorbing: once
// reached, no report mutates the aggregate beyond duplicate no-ops.
const (
	StatusPending        = "pending"
	StatusInProgress     = "in_progress"
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusFailed         = "failed"
	StatusTimedOut       = "timed_out"
)

// IsTerminal reports whether an overall status admits no further mutation.
func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusPartialSuccess, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Aggregate is the shared per-correlation record merging asynchronous cleanup
// progress reports into one terminal outcome. All mutation goes through an
// AggregateStore, which serializes read-modify-write per correlation id.
type Aggregate struct {
	CorrelationID       string            `json:"correlation_id"`
	SourceName          string            `json:"source_name"`
	ExpectedServices    []string          `json:"expected_services"`
	PerServiceStatus    map[string]string `json:"per_service_status"`
	TotalDeletionCounts map[string]int64  `json:"total_deletion_counts"`
	CreatedAt           time.Time         `json:"created_at"`
	OverallStatus       string            `json:"overall_status"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	// CompletedEventPublished guards the exactly-once publish of the
	// aggregate completion event across duplicate reports.
	CompletedEventPublished bool `json:"completed_event_published"`
}

// NewAggregate creates a pending aggregate for a correlation id.
func NewAggregate(correlationID, sourceName string, expectedServices []string, now time.Time) *Aggregate {
	expected := make([]string, len(expectedServices))
	copy(expected, expectedServices)
	sort.Strings(expected)
	return &Aggregate{
		CorrelationID:       correlationID,
		SourceName:          sourceName,
		ExpectedServices:    expected,
		PerServiceStatus:    make(map[string]string),
		TotalDeletionCounts: make(map[string]int64),
		CreatedAt:           now,
		OverallStatus:       StatusPending,
	}
}

// Initialized reports whether the aggregate has been populated, as opposed to
// the zero record a store hands to the first mutation for a correlation id.
func (a *Aggregate) Initialized() bool {
	return !a.CreatedAt.IsZero()
}

// ApplyReport merges one progress report. Reports for a service already in a
// terminal per-service status are duplicates: their count deltas are
// discarded. A terminal overall status absorbs everything. Returns true when
// the aggregate changed.
func (a *Aggregate) ApplyReport(report *events.CleanupProgressReport) bool {
	if IsTerminal(a.OverallStatus) {
		return false
	}
	current := a.PerServiceStatus[report.ServiceName]
	if events.TerminalStatus(current) {
		return false
	}

	if a.PerServiceStatus == nil {
		a.PerServiceStatus = make(map[string]string)
	}
	if a.TotalDeletionCounts == nil {
		a.TotalDeletionCounts = make(map[string]int64)
	}
	for key, delta := range report.DeletionCounts {
		if delta < 0 {
			continue
		}
		a.TotalDeletionCounts[key] += delta
	}
	a.PerServiceStatus[report.ServiceName] = report.Status
	if a.OverallStatus == StatusPending {
		a.OverallStatus = StatusInProgress
	}
	return true
}

// Evaluate re-checks the completion predicate and transitions the aggregate
// to a terminal status when every expected service is terminal, or when the
// aggregation timeout has elapsed since creation. Returns true when the
// aggregate transitioned on this call.
func (a *Aggregate) Evaluate(now time.Time, timeout time.Duration) bool {
	if IsTerminal(a.OverallStatus) || !a.Initialized() {
		return false
	}

	allTerminal := len(a.ExpectedServices) > 0
	completed, failed := 0, 0
	for _, svc := range a.ExpectedServices {
		status := a.PerServiceStatus[svc]
		switch status {
		case events.CleanupStatusCompleted:
			completed++
		case events.CleanupStatusFailed:
			failed++
		default:
			allTerminal = false
		}
	}

	switch {
	case allTerminal:
		switch {
		case failed == 0:
			a.OverallStatus = StatusSuccess
		case completed == 0:
			a.OverallStatus = StatusFailed
		default:
			a.OverallStatus = StatusPartialSuccess
		}
	case timeout > 0 && now.Sub(a.CreatedAt) >= timeout:
		a.OverallStatus = StatusTimedOut
	default:
		return false
	}

	at := now.UTC()
	a.CompletedAt = &at
	return true
}

// CompletedEvent builds the aggregate completion payload. Expected services
// that never reported, or were still in progress at timeout, count as not
// completed.
func (a *Aggregate) CompletedEvent() *events.CleanupCompleted {
	var servicesCompleted, servicesFailed []string
	for _, svc := range a.ExpectedServices {
		if a.PerServiceStatus[svc] == events.CleanupStatusCompleted {
			servicesCompleted = append(servicesCompleted, svc)
		} else {
			servicesFailed = append(servicesFailed, svc)
		}
	}

	counts := make(map[string]int64, len(a.TotalDeletionCounts))
	for k, v := range a.TotalDeletionCounts {
		counts[k] = v
	}
	completedAt := time.Now().UTC()
	if a.CompletedAt != nil {
		completedAt = *a.CompletedAt
	}
	return &events.CleanupCompleted{
		CorrelationID:       a.CorrelationID,
		SourceName:          a.SourceName,
		OverallStatus:       a.OverallStatus,
		ServicesCompleted:   servicesCompleted,
		ServicesFailed:      servicesFailed,
		TotalDeletionCounts: counts,
		CompletedAt:         completedAt,
	}
}
