package cachepush

import (
	"context"
	"fmt"
	"os"

	"github.com/qowoz/hercules-ci-agent/logger"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSConfig identifies the destination bucket for one push cache backed by
// Google Cloud Storage, e.g. "gs://my-bucket-name/nar".
type GCSConfig struct {
	Destination string
}

// GCSBackend pushes realised store paths to a Google Cloud Storage bucket.
type GCSBackend struct {
	bucket  string
	prefix  string
	service *storage.Service
	logger  logger.Logger
}

// NewGCSBackend resolves Google application-default credentials (the same
// chain the teacher's GS uploader falls back to) and returns a Backend for
// conf.
func NewGCSBackend(ctx context.Context, l logger.Logger, conf GCSConfig) (*GCSBackend, error) {
	client, err := google.DefaultClient(ctx, storage.DevstorageFullControlScope)
	if err != nil {
		return nil, fmt.Errorf("cachepush: default Google credentials: %w", err)
	}

	service, err := storage.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("cachepush: creating GCS service: %w", err)
	}

	bucket, prefix := parseBucketDestination(conf.Destination, "gs://")
	return &GCSBackend{bucket: bucket, prefix: prefix, service: service, logger: l}, nil
}

func (b *GCSBackend) Push(ctx context.Context, storePath string) error {
	f, err := os.Open(storePath)
	if err != nil {
		return fmt.Errorf("cachepush: opening %q: %w", storePath, err)
	}
	defer f.Close()

	name := b.objectName(storePath)
	b.logger.Debug("cachepush: uploading %q to gs://%s/%s", storePath, b.bucket, name)

	obj := &storage.Object{Name: name}
	_, err = b.service.Objects.Insert(b.bucket, obj).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("cachepush: uploading %q: %w", storePath, err)
	}
	return nil
}

func (b *GCSBackend) objectName(storePath string) string {
	base := storePathBase(storePath)
	if b.prefix == "" {
		return base
	}
	return b.prefix + "/" + base
}
