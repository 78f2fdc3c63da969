package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

// MinIOStorage implements ObjectStorage using MinIO S3-compatible APIs.
type MinIOStorage struct {
	client *minio.Client
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("minio accessKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio secretKey is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	return &MinIOStorage{client: client}, nil
}

func (s *MinIOStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo {
	out := make(chan ObjectInfo, 1)
	if s.client == nil {
		out <- ObjectInfo{Err: fmt.Errorf("minio client is nil")}
		close(out)
		return out
	}

	objCh := s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	go func() {
		defer close(out)
		for obj := range objCh {
			if obj.Err != nil {
				out <- ObjectInfo{Err: fmt.Errorf("minio list objects failed: %w", obj.Err)}
				continue
			}
			out <- ObjectInfo{Key: obj.Key, SizeBytes: obj.Size}
		}
	}()
	return out
}

func (s *MinIOStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if s.client == nil {
		return fmt.Errorf("minio client is nil")
	}
	objCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		objCh <- minio.ObjectInfo{Key: key}
	}
	close(objCh)

	errCh := s.client.RemoveObjects(ctx, bucket, objCh, minio.RemoveObjectsOptions{})
	for err := range errCh {
		if err.Err != nil {
			return fmt.Errorf("minio remove object failed: %w", err.Err)
		}
	}
	return nil
}

func (s *MinIOStorage) RemoveByPrefix(ctx context.Context, bucket, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}

	var removed int64
	batch := make([]string, 0, removeBatchSize)
	for obj := range s.ListObjects(ctx, bucket, prefix) {
		if obj.Err != nil {
			return removed, obj.Err
		}
		batch = append(batch, obj.Key)
		if len(batch) >= removeBatchSize {
			if err := s.RemoveObjects(ctx, bucket, batch); err != nil {
				return removed, err
			}
			removed += int64(len(batch))
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.RemoveObjects(ctx, bucket, batch); err != nil {
			return removed, err
		}
		removed += int64(len(batch))
	}
	return removed, nil
}

const removeBatchSize = 1000
