package storage

import "context"

// ObjectStorage defines the minimal object storage operations required by the
// archive cleanup flow. It is intentionally small so we can swap MinIO/AWS-S3
// implementations without touching business logic.
type ObjectStorage interface {
	// ListObjects streams all objects under prefix. The channel is closed
	// when the listing completes or ctx is cancelled.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo

	// RemoveObjects deletes the given keys. Missing keys are not an error.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error

	// RemoveByPrefix deletes every object under prefix and returns the
	// number of objects removed. Removing an absent prefix returns 0, nil.
	RemoveByPrefix(ctx context.Context, bucket, prefix string) (int64, error)
}

// ObjectInfo describes one listed object, or a listing error.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	Err       error
}
