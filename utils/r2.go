// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wildlife-challenge-system/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// R2Settings names the Cloudflare R2 bucket manifests are archived to.
type R2Settings struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Configured reports whether every field needed to reach R2 is set.
func (s R2Settings) Configured() bool {
	return s.AccountID != "" && s.AccessKeyID != "" && s.AccessKeySecret != "" && s.Bucket != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archiver stores a JSON snapshot of each manifest before it is replaced or deleted.
type R2Archiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

func NewR2Archiver(ctx context.Context, s R2Settings) (*R2Archiver, error) {
	if !s.Configured() {
		return nil, errors.New("r2 archiver: account id, access key and bucket are required")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.AccessKeyID, s.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", s.AccountID))
	})
	return &R2Archiver{client: client, bucket: s.Bucket, now: time.Now}, nil
}

// ArchiveManifest uploads m under ManifestArchiveKey.
func (a *R2Archiver) ArchiveManifest(ctx context.Context, m *models.RegionManifest) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest %s: %w", m.RegionKey, err)
	}

	key := ManifestArchiveKey(m, a.now())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}
	return nil
}

// ManifestArchiveKey is manifests/<location-slug>/<region-key>-<timestamp>.json.
func ManifestArchiveKey(m *models.RegionManifest, at time.Time) string {
	place := slug.Make(m.Location)
	if place == "" {
		place = "unknown"
	}
	return fmt.Sprintf("manifests/%s/%s-%s.json", place, m.RegionKey, at.UTC().Format("20060102T150405Z"))
}
