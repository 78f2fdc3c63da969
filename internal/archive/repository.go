package archive

import (
	"context"

	"docpipe/internal/common/db"
	appErr "docpipe/pkg/errors"
)

// Repository is the archive metadata surface the deletion initiator uses.
// Every delete is idempotent: deleting absent data succeeds with count 0.
type Repository interface {
	GetSource(ctx context.Context, name string) (*Source, error)
	ListArchiveIDs(ctx context.Context, sourceName string) ([]string, error)
	DeleteArchives(ctx context.Context, sourceName string) (int64, error)
	DeleteSource(ctx context.Context, name string) (int64, error)
}

// MySQLRepository persists sources and archives in MySQL.
//
// Schema:
//
//	CREATE TABLE sources (
//	    id         BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    name       VARCHAR(255) NOT NULL UNIQUE,
//	    created_at DATETIME(6)  NOT NULL,
//	    updated_at DATETIME(6)  NOT NULL
//	);
//	CREATE TABLE archives (
//	    id          VARCHAR(64)  PRIMARY KEY,
//	    source_name VARCHAR(255) NOT NULL,
//	    object_key  VARCHAR(512) NOT NULL,
//	    size_bytes  BIGINT       NOT NULL DEFAULT 0,
//	    created_at  DATETIME(6)  NOT NULL,
//	    KEY idx_source_name (source_name)
//	);
type MySQLRepository struct {
	db db.Database
}

// NewMySQLRepository creates an archive repository.
func NewMySQLRepository(database db.Database) *MySQLRepository {
	return &MySQLRepository{db: database}
}

// GetSource returns a source by name.
func (r *MySQLRepository) GetSource(ctx context.Context, name string) (*Source, error) {
	if name == "" {
		return nil, appErr.ValidationError("source_name", "required")
	}
	row := r.db.QueryRow(ctx,
		"SELECT id, name, created_at, updated_at FROM sources WHERE name = ?", name)
	var src Source
	if err := row.Scan(&src.ID, &src.Name, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SourceNotFound).WithDetail("source_name", name)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query source failed")
	}
	return &src, nil
}

// ListArchiveIDs returns the ids of every archive belonging to a source,
// ordered for stable deletion request payloads.
func (r *MySQLRepository) ListArchiveIDs(ctx context.Context, sourceName string) ([]string, error) {
	if sourceName == "" {
		return nil, appErr.ValidationError("source_name", "required")
	}
	rows, err := r.db.Query(ctx,
		"SELECT id FROM archives WHERE source_name = ? ORDER BY id", sourceName)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list archive ids failed")
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan archive id failed")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate archive ids failed")
	}
	return ids, nil
}

// DeleteArchives removes every archive row for a source and returns the
// number deleted. Absent rows delete as 0.
func (r *MySQLRepository) DeleteArchives(ctx context.Context, sourceName string) (int64, error) {
	if sourceName == "" {
		return 0, appErr.ValidationError("source_name", "required")
	}
	result, err := r.db.Exec(ctx, "DELETE FROM archives WHERE source_name = ?", sourceName)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ArchiveDeleteFailed, "delete archives failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ArchiveDeleteFailed, "delete archives failed")
	}
	return affected, nil
}

// DeleteSource removes the source row. Returns 0 when it was already gone.
func (r *MySQLRepository) DeleteSource(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, appErr.ValidationError("source_name", "required")
	}
	result, err := r.db.Exec(ctx, "DELETE FROM sources WHERE name = ?", name)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "delete source failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "delete source failed")
	}
	return affected, nil
}
