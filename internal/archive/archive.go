// Package archive uploads terminal job reports to S3-compatible storage.
// When no bucket is configured the NoopArchiver is used and reports stay
// in the local job history only.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/oppsync/internal/config"
	"github.com/hyperengineering/oppsync/internal/types"
)

// Archiver receives every terminal job. It satisfies the batch runner's
// observer contract.
type Archiver interface {
	JobFinished(ctx context.Context, report types.JobReport) error
}

// s3Client is the slice of *minio.Client used by S3Archiver.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, objectName, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// S3Archiver writes each report as one JSON object.
type S3Archiver struct {
	client s3Client
	bucket string
	prefix string
}

// JobFinished uploads the report under ObjectKey.
func (a *S3Archiver) JobFinished(ctx context.Context, report types.JobReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job report: %w", err)
	}
	key := ObjectKey(a.prefix, report)
	if err := a.client.PutObject(ctx, a.bucket, key, body, "application/json"); err != nil {
		return fmt.Errorf("upload job report %s: %w", report.ID, err)
	}
	return nil
}

// NoopArchiver discards reports.
type NoopArchiver struct{}

// JobFinished does nothing.
func (NoopArchiver) JobFinished(context.Context, types.JobReport) error {
	return nil
}

// New returns NoopArchiver when the bucket is empty, S3Archiver otherwise.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if !cfg.Enabled() {
		return NoopArchiver{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// ObjectKey returns the object key for a report.
// Convention: {prefix}{job name}/{yyyy}/{mm}/{dd}/{job id}.json
func ObjectKey(prefix string, r types.JobReport) string {
	return prefix + path.Join(r.Name, r.StartedAt.UTC().Format("2006/01/02"), r.ID+".json")
}
