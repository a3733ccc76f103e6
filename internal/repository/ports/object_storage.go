package ports

import (
	"context"
	"io"
)

// ObjectStorage archives uploaded import files.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectName, contentType string, reader io.Reader, size int64) (string, error)
	Remove(ctx context.Context, bucket, objectName string) error
}
