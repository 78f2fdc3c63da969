package deadletter

import (
	"context"
	"time"

	"docpipe/internal/common/db"
	appErr "docpipe/pkg/errors"
)

// MySQLRepository persists dead-letter records in MySQL.
//
// Schema:
//
//	CREATE TABLE dead_letters (
//	    id               BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    original_event   JSON         NOT NULL,
//	    topic            VARCHAR(255) NOT NULL,
//	    event_type       VARCHAR(255) NOT NULL,
//	    idempotency_key  VARCHAR(512) NOT NULL,
//	    attempt_count    INT          NOT NULL,
//	    last_error       TEXT         NOT NULL,
//	    error_kind       VARCHAR(32)  NOT NULL,
//	    abandoned_reason VARCHAR(64)  NOT NULL,
//	    service_name     VARCHAR(255) NOT NULL,
//	    abandoned_at     DATETIME(6)  NOT NULL,
//	    replayed_at      DATETIME(6)  NULL,
//	    KEY idx_idempotency_key (idempotency_key),
//	    KEY idx_service_name (service_name, abandoned_at)
//	);
type MySQLRepository struct {
	db db.Database
}

// NewMySQLRepository creates a dead-letter repository.
func NewMySQLRepository(database db.Database) *MySQLRepository {
	return &MySQLRepository{db: database}
}

const insertRecordSQL = `
INSERT INTO dead_letters
    (original_event, topic, event_type, idempotency_key, attempt_count,
     last_error, error_kind, abandoned_reason, service_name, abandoned_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record inserts an abandoned event.
func (r *MySQLRepository) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return appErr.ValidationError("record", "required")
	}
	if rec.IdempotencyKey == "" {
		return appErr.ValidationError("idempotency_key", "required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	result, err := r.db.Exec(ctx, insertRecordSQL,
		[]byte(rec.OriginalEvent), rec.Topic, rec.EventType, rec.IdempotencyKey,
		rec.AttemptCount, rec.LastError, rec.ErrorKind, rec.AbandonedReason,
		rec.ServiceName, rec.Timestamp)
	if err != nil {
		return appErr.Wrapf(err, appErr.DeadLetterWriteFail, "insert dead letter failed")
	}
	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

const selectRecordSQL = `
SELECT id, original_event, topic, event_type, idempotency_key, attempt_count,
       last_error, error_kind, abandoned_reason, service_name, abandoned_at, replayed_at
FROM dead_letters`

// GetByID returns one record by its id.
func (r *MySQLRepository) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := r.db.QueryRow(ctx, selectRecordSQL+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.DeadLetterNotFound).WithDetail("id", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query dead letter failed")
	}
	return rec, nil
}

// ListByService returns records for a service, newest first, with the total count.
func (r *MySQLRepository) ListByService(ctx context.Context, serviceName string, limit, offset int) ([]*Record, int64, error) {
	if serviceName == "" {
		return nil, 0, appErr.ValidationError("service_name", "required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	countRow := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dead_letters WHERE service_name = ?", serviceName)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "count dead letters failed")
	}

	rows, err := r.db.Query(ctx,
		selectRecordSQL+" WHERE service_name = ? ORDER BY abandoned_at DESC LIMIT ? OFFSET ?",
		serviceName, limit, offset)
	if err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "list dead letters failed")
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListByIdempotencyKey returns every record sharing an idempotency key,
// oldest first, so operators can see the full abandonment history.
func (r *MySQLRepository) ListByIdempotencyKey(ctx context.Context, key string) ([]*Record, error) {
	if key == "" {
		return nil, appErr.ValidationError("idempotency_key", "required")
	}
	rows, err := r.db.Query(ctx,
		selectRecordSQL+" WHERE idempotency_key = ? ORDER BY abandoned_at ASC", key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list dead letters failed")
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// MarkReplayed records that an operator replayed the event.
func (r *MySQLRepository) MarkReplayed(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.Exec(ctx, "UPDATE dead_letters SET replayed_at = ? WHERE id = ?", at, id)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark replayed failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark replayed failed")
	}
	if affected == 0 {
		return appErr.New(appErr.DeadLetterNotFound).WithDetail("id", id)
	}
	return nil
}

func scanRecord(row db.Row) (*Record, error) {
	var rec Record
	var original []byte
	var replayedAt *time.Time
	if err := row.Scan(&rec.ID, &original, &rec.Topic, &rec.EventType,
		&rec.IdempotencyKey, &rec.AttemptCount, &rec.LastError, &rec.ErrorKind,
		&rec.AbandonedReason, &rec.ServiceName, &rec.Timestamp, &replayedAt); err != nil {
		return nil, err
	}
	rec.OriginalEvent = original
	rec.ReplayedAt = replayedAt
	return &rec, nil
}

func scanRecords(rows db.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		var rec Record
		var original []byte
		var replayedAt *time.Time
		if err := rows.Scan(&rec.ID, &original, &rec.Topic, &rec.EventType,
			&rec.IdempotencyKey, &rec.AttemptCount, &rec.LastError, &rec.ErrorKind,
			&rec.AbandonedReason, &rec.ServiceName, &rec.Timestamp, &replayedAt); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan dead letter failed")
		}
		rec.OriginalEvent = original
		rec.ReplayedAt = replayedAt
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate dead letters failed")
	}
	return records, nil
}
