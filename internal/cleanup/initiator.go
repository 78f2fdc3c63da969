package cleanup

import (
	"context"
	"time"

	"docpipe/internal/archive"
	"docpipe/internal/common/mq"
	"docpipe/internal/common/storage"
	"docpipe/internal/events"
	appErr "docpipe/pkg/errors"
	"docpipe/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InitiatorConfig wires an Initiator.
type InitiatorConfig struct {
	// ServiceName appears in the initiator's own progress report.
	ServiceName string
	// Bucket holds the archive objects.
	Bucket string
	// DeletionTopic receives the fan-out deletion request.
	DeletionTopic string
	// ProgressTopic receives the initiator's own progress report.
	ProgressTopic string

	Archives archive.Repository
	Objects  storage.ObjectStorage
	Queue    mq.Producer
}

// Initiator drives cascade deletion for a source: it resolves the deletion
// scope, fans the request out, deletes the initiator's own data, reports its
// progress, and finally removes the source record.
//
// The source row is the commit point. Any failure before it is deleted
// leaves the operation re-runnable with a fresh correlation id; every local
// delete is idempotent, so duplicate scopes downstream are harmless.
type Initiator struct {
	cfg InitiatorConfig
	now func() time.Time
}

// NewInitiator validates the config and builds an Initiator.
func NewInitiator(cfg InitiatorConfig) (*Initiator, error) {
	if cfg.ServiceName == "" {
		return nil, appErr.ValidationError("service_name", "required")
	}
	if cfg.DeletionTopic == "" || cfg.ProgressTopic == "" {
		return nil, appErr.New(appErr.TopicNotConfigured).WithMessage("deletion and progress topics are required")
	}
	if cfg.Archives == nil {
		return nil, appErr.ValidationError("archives", "required")
	}
	if cfg.Queue == nil {
		return nil, appErr.ValidationError("queue", "required")
	}
	return &Initiator{cfg: cfg, now: time.Now}, nil
}

// Initiate starts cascade deletion for a source and returns the published
// deletion request.
func (i *Initiator) Initiate(ctx context.Context, sourceName, requestedBy string) (*events.DeletionRequest, error) {
	if sourceName == "" {
		return nil, appErr.ValidationError("source_name", "required")
	}

	// Resolve the scope before any side effects; an unknown source aborts
	// without publishing.
	if _, err := i.cfg.Archives.GetSource(ctx, sourceName); err != nil {
		return nil, err
	}
	archiveIDs, err := i.cfg.Archives.ListArchiveIDs(ctx, sourceName)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CleanupScopeFailed, "resolve cleanup scope failed")
	}

	req := &events.DeletionRequest{
		SourceName:    sourceName,
		CorrelationID: uuid.NewString(),
		ArchiveIDs:    archiveIDs,
		DeleteMode:    events.DeleteModeHard,
		RequestedAt:   i.now().UTC(),
		RequestedBy:   requestedBy,
	}
	if err := i.publish(ctx, i.cfg.DeletionTopic, events.TypeSourceDeletionRequested, req); err != nil {
		return nil, appErr.Wrapf(err, appErr.CleanupInitiateFailed, "publish deletion request failed")
	}
	logger.Info(ctx, "cascade deletion initiated",
		zap.String("source_name", sourceName),
		zap.String("correlation_id", req.CorrelationID),
		zap.Int("archive_count", len(archiveIDs)))

	counts, err := i.deleteLocal(ctx, sourceName)
	if err != nil {
		// The request is already out; the source row survives, so the
		// operator re-initiates and the idempotent deletes converge.
		return req, err
	}

	report := &events.CleanupProgressReport{
		CorrelationID:  req.CorrelationID,
		ServiceName:    i.cfg.ServiceName,
		Status:         events.CleanupStatusCompleted,
		DeletionCounts: counts,
		CompletedAt:    i.now().UTC(),
	}
	if err := i.publish(ctx, i.cfg.ProgressTopic, events.TypeSourceCleanupProgress, report); err != nil {
		return req, appErr.Wrapf(err, appErr.PublishFailed, "publish progress report failed")
	}

	// Commit point: only after local deletion succeeded.
	if _, err := i.cfg.Archives.DeleteSource(ctx, sourceName); err != nil {
		return req, err
	}
	logger.Info(ctx, "cascade deletion committed",
		zap.String("source_name", sourceName),
		zap.String("correlation_id", req.CorrelationID),
		zap.Int64("archives_deleted", counts["archives"]),
		zap.Int64("objects_deleted", counts["archive_objects"]))
	return req, nil
}

// deleteLocal removes the initiator's own data: archive rows, then archive
// objects under the source prefix. Both are idempotent.
func (i *Initiator) deleteLocal(ctx context.Context, sourceName string) (map[string]int64, error) {
	rows, err := i.cfg.Archives.DeleteArchives(ctx, sourceName)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LocalDeleteFailed, "delete archive rows failed")
	}

	var objects int64
	if i.cfg.Objects != nil {
		objects, err = i.cfg.Objects.RemoveByPrefix(ctx, i.cfg.Bucket, archive.ObjectPrefix(sourceName))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ObjectDeleteFailed, "delete archive objects failed")
		}
	}

	return map[string]int64{
		"archives":        rows,
		"archive_objects": objects,
	}, nil
}

func (i *Initiator) publish(ctx context.Context, topic, eventType string, payload interface{}) error {
	ev, err := events.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	body, err := ev.Encode()
	if err != nil {
		return err
	}
	return i.cfg.Queue.Publish(ctx, topic, mq.NewMessage(body))
}
