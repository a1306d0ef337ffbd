package storage

import (
	"context"
	"time"
)

// UploadOptions conveys archive destination metadata.
type UploadOptions struct {
	Bucket           string
	Key              string
	ProgressCallback func(done, total int64)
}

// Service archives finalized recordings to remote object storage.
type Service interface {
	UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
}
