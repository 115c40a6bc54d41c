// Package blob stores durable artifacts in an S3-compatible object store
// and fetches vendor results back for relocation.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/lisperz/frazo/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sentinel errors for upload failures.
var (
	ErrSourceMissing = errors.New("upload source file missing")
	ErrRemoteWrite   = errors.New("remote write failed")
)

// Uploader stores a local artifact and returns a durable, externally
// fetchable URL for it.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// S3Uploader implements Uploader against an S3-compatible endpoint.
type S3Uploader struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewS3Uploader creates an S3Uploader and ensures the bucket exists.
func NewS3Uploader(ctx context.Context, cfg config.BlobConfig) (*S3Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &S3Uploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload puts localPath under key as a single atomic object write. If key is
// already taken the object is stored under a suffixed key instead of being
// overwritten.
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, localPath)
	}

	finalKey := key
	_, err := u.client.StatObject(ctx, u.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		finalKey = DisambiguateKey(key)
	} else {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code != "NoSuchKey" {
			return "", fmt.Errorf("%w: stat %s: %v", ErrRemoteWrite, key, err)
		}
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(finalKey, ".mp4") {
		contentType = "video/mp4"
	}

	if _, err := u.client.FPutObject(ctx, u.bucket, finalKey, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrRemoteWrite, finalKey, err)
	}

	return fmt.Sprintf("%s/%s/%s", u.publicBaseURL, u.bucket, finalKey), nil
}

// DisambiguateKey appends a short random suffix before the extension so a
// second artifact never overwrites an existing one.
func DisambiguateKey(key string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	suffix := hex.EncodeToString(buf)

	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + "-" + suffix + ext
}

// Compile-time check that S3Uploader implements Uploader.
var _ Uploader = (*S3Uploader)(nil)
