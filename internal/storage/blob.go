package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"onboarding-service/internal/config"
	"onboarding-service/internal/util"
)

// BlobStore wraps MinIO/S3 for driver uploads: identification photos,
// signed policy documents, appraisal attachments. Form documents store only
// the object keys; the bytes live here.
type BlobStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewBlobStore(cfg *config.Config) (*BlobStore, error) {
	blobConfig := cfg.Blob

	client, err := minio.New(blobConfig.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(blobConfig.AccessKey, blobConfig.SecretKey, ""),
		Secure: blobConfig.UseSSL,
		Region: blobConfig.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	util.Info("blob store initialized",
		zap.String("endpoint", blobConfig.Endpoint),
		zap.String("bucket", blobConfig.Bucket))

	return &BlobStore{
		client: client,
		bucket: blobConfig.Bucket,
		region: blobConfig.Region,
	}, nil
}

// EnsureBucket makes sure the upload bucket exists before use.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores one object and returns nothing; callers keep the key.
func (s *BlobStore) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload object %s: %w", objectKey, err)
	}
	return nil
}

// Download fetches the object bytes.
func (s *BlobStore) Download(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return buf, nil
}

// Delete removes one object. Removing a key that is already gone is not an
// error; cleanup may run twice over the same tracker.
func (s *BlobStore) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", objectKey, err)
	}
	return nil
}

// DeleteAll removes a batch of object keys, continuing past individual
// failures and returning the first error seen.
func (s *BlobStore) DeleteAll(ctx context.Context, objectKeys []string) error {
	var firstErr error
	for _, key := range objectKeys {
		if err := s.Delete(ctx, key); err != nil {
			util.Warn("blob delete failed",
				zap.String("object_key", key),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *BlobStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("blob store health check: %w", err)
	}
	return nil
}
