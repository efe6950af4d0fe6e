// Package s3 uploads finished job artifacts to an S3-compatible bucket and
// hands out presigned download URLs.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"solar-telemetry/internal/artifact"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLExpiry time.Duration
}

// ArtifactRepo implements jobs.ArtifactStore.
type ArtifactRepo struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewArtifactRepo(cfg Config) (*ArtifactRepo, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &ArtifactRepo{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (r *ArtifactRepo) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("s3 make bucket: %w", err)
	}
	return nil
}

func objectKey(jobID string, a *artifact.Artifact) string {
	return path.Join("artifacts", jobID, a.Filename)
}

func (r *ArtifactRepo) Put(ctx context.Context, jobID string, a *artifact.Artifact) (string, error) {
	if a == nil {
		return "", fmt.Errorf("s3 put: nil artifact")
	}
	key := objectKey(jobID, a)
	_, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)),
		minio.PutObjectOptions{ContentType: a.MediaType})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return r.presign(ctx, key, a.Filename)
}

func (r *ArtifactRepo) presign(ctx context.Context, key, filename string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, r.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presigned get object: %w", err)
	}
	return u.String(), nil
}

func (r *ArtifactRepo) Delete(ctx context.Context, jobID string, a *artifact.Artifact) error {
	if err := r.client.RemoveObject(ctx, r.bucket, objectKey(jobID, a), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 remove object: %w", err)
	}
	return nil
}
