package cachepush

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qowoz/hercules-ci-agent/logger"
)

// S3Config identifies the destination bucket for one push cache backed by
// S3, e.g. "s3://my-bucket-name/nar".
type S3Config struct {
	Destination string
}

// S3Backend pushes realised store paths to an S3 bucket.
type S3Backend struct {
	bucket string
	prefix string
	client *s3.Client
	logger logger.Logger
}

// NewS3Backend resolves AWS credentials the same way the AWS SDK's default
// credential chain does (env vars, shared config, instance role) and
// returns a Backend for conf.
func NewS3Backend(ctx context.Context, l logger.Logger, conf S3Config) (*S3Backend, error) {
	bucket, prefix := parseBucketDestination(conf.Destination, "s3://")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("cachepush: loading AWS config: %w", err)
	}

	return &S3Backend{
		bucket: bucket,
		prefix: prefix,
		client: s3.NewFromConfig(cfg),
		logger: l,
	}, nil
}

// Push uploads the file at storePath as a single object under its basename.
// A directory is not archived or walked; pushing one fails. Skipping closures
// already present is left to the backend server; the pusher never
// de-duplicates (spec §4.7).
func (b *S3Backend) Push(ctx context.Context, storePath string) error {
	f, err := os.Open(storePath)
	if err != nil {
		return fmt.Errorf("cachepush: opening %q: %w", storePath, err)
	}
	defer f.Close()

	key := b.objectKey(storePath)
	b.logger.Debug("cachepush: uploading %q to s3://%s/%s", storePath, b.bucket, key)

	uploader := manager.NewUploader(b.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}

func (b *S3Backend) objectKey(storePath string) string {
	base := storePathBase(storePath)
	if b.prefix == "" {
		return base
	}
	return b.prefix + "/" + base
}

func parseBucketDestination(destination, scheme string) (bucket, prefix string) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(destination, scheme), "/")
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix
}

func storePathBase(storePath string) string {
	idx := strings.LastIndexByte(storePath, '/')
	if idx < 0 {
		return storePath
	}
	return storePath[idx+1:]
}
