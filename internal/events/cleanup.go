package events

import "time"

// Per-service cleanup statuses carried in progress reports.
const (
	CleanupStatusInProgress = "in_progress"
	CleanupStatusCompleted  = "completed"
	CleanupStatusFailed     = "failed"
)

// DeleteModeHard is the only deletion mode currently supported.
const DeleteModeHard = "hard"

// DeletionRequest is the fan-out payload asking every subscribed service to
// delete its slice of data for a source.
type DeletionRequest struct {
	SourceName    string    `json:"source_name"`
	CorrelationID string    `json:"correlation_id"`
	ArchiveIDs    []string  `json:"archive_ids"`
	DeleteMode    string    `json:"delete_mode"`
	RequestedAt   time.Time `json:"requested_at"`
	RequestedBy   string    `json:"requested_by"`
}

// CleanupProgressReport is one service's account of its own deletion work.
// DeletionCounts carries deltas, not totals.
type CleanupProgressReport struct {
	CorrelationID  string           `json:"correlation_id"`
	ServiceName    string           `json:"service_name"`
	Status         string           `json:"status"`
	DeletionCounts map[string]int64 `json:"deletion_counts"`
	CompletedAt    time.Time        `json:"completed_at"`
}

// TerminalStatus reports whether a per-service status admits no further
// count merging.
func TerminalStatus(status string) bool {
	return status == CleanupStatusCompleted || status == CleanupStatusFailed
}

// CleanupCompleted is the aggregate outcome published exactly once per
// correlation id.
type CleanupCompleted struct {
	CorrelationID       string           `json:"correlation_id"`
	SourceName          string           `json:"source_name"`
	OverallStatus       string           `json:"overall_status"`
	ServicesCompleted   []string         `json:"services_completed"`
	ServicesFailed      []string         `json:"services_failed"`
	TotalDeletionCounts map[string]int64 `json:"total_deletion_counts"`
	CompletedAt         time.Time        `json:"completed_at"`
}
