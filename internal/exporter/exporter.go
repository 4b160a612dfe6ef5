// Package exporter optionally uploads a finalized CPU profile to S3 once
// Profiler.stop produces it, so a profile can be shared or archived
// outside the lifetime of the debug-agent process that recorded it
// (SPEC_FULL.md domain stack §4).
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"apex-build/internal/profiler"
)

// Exporter uploads finalized profiles to one S3 bucket.
type Exporter struct {
	bucket   string
	uploader *manager.Uploader
}

// New loads AWS configuration from the environment (the standard
// credential chain) and targets bucket for every upload.
func New(ctx context.Context, bucket string) (*Exporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporter: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Exporter{bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

// Upload serializes profile as JSON and puts it at
// profiles/<uid>-<unix-nanos>.json, returning the resulting s3:// URI.
func (e *Exporter) Upload(ctx context.Context, header profiler.ProfileHeader, profile profiler.Profile, now time.Time) (string, error) {
	body, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("exporter: marshal profile %s: %w", header.UID, err)
	}

	key := objectKey(header.UID, now)
	_, err = e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("exporter: upload profile %s: %w", header.UID, err)
	}

	return fmt.Sprintf("s3://%s/%s", e.bucket, key), nil
}

func objectKey(uid string, now time.Time) string {
	return fmt.Sprintf("profiles/%s-%d.json", uid, now.UnixNano())
}
