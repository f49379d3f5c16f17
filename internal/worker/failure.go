package worker

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/dropwatch/internal/category"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
	"github.com/Aman-CERP/dropwatch/internal/index"
)

// FailedContent is the content of every failure marker document.
const FailedContent = "failed"

// FailureRecorder writes a marker document for files whose extraction
// failed, so operators can find them in the index.
type FailureRecorder struct {
	client index.Client
	bucket string
	logger *slog.Logger
}

// NewFailureRecorder creates a recorder writing to bucket. An empty bucket
// means category.FailedBucket.
func NewFailureRecorder(client index.Client, bucket string, logger *slog.Logger) *FailureRecorder {
	if bucket == "" {
		bucket = category.FailedBucket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureRecorder{client: client, bucket: bucket, logger: logger}
}

// Bucket returns the failure bucket name.
func (r *FailureRecorder) Bucket() string {
	return r.bucket
}

// Record stores {content: "failed"} under the processed file's key.
// A write error is logged here; the returned error is informational and
// must not stop the caller.
func (r *FailureRecorder) Record(ctx context.Context, processedPath string) error {
	key := category.KeyForPath(processedPath)
	err := r.client.Index(ctx, index.Document{
		Bucket: r.bucket,
		Key:    key,
		Fields: map[string]string{"content": FailedContent},
	})
	if err != nil {
		ie := dwerrors.IndexError(r.bucket, key, err)
		r.logger.LogAttrs(ctx, slog.LevelError, "failure record not written", dwerrors.LogAttrs(ie)...)
		return ie
	}

	r.logger.Info("failure recorded",
		slog.String("bucket", r.bucket),
		slog.String("key", key))
	return nil
}
