// Package media stores project images in an S3-compatible object store and
// hands out short-lived download links. Projects keep only the object key;
// browsers fetch through presigned URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultURLExpiry = 15 * time.Minute

var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Service wraps a MinIO client scoped to one bucket.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and makes sure the bucket exists.
func NewService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	if bucket == "" {
		return nil, fmt.Errorf("media: bucket is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media: connect %s: %w", endpoint, err)
	}

	s := &Service{client: client, bucket: bucket}
	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("media: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("media: create bucket %s: %w", s.bucket, err)
	}
	log.Printf("media: created bucket %s", s.bucket)
	return nil
}

// UploadProjectImage stores an image under the project's prefix and returns
// the object key. Only browser-displayable image types are accepted.
func (s *Service) UploadProjectImage(ctx context.Context, projectID, contentType string, r io.Reader, size int64) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("media: unsupported content type %q", contentType)
	}

	key := path.Join("projects", projectID, "cover"+ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("media: upload %s: %w", key, err)
	}
	return key, nil
}

// UploadAvatar stores a profile avatar and returns the object key.
func (s *Service) UploadAvatar(ctx context.Context, userID, contentType string, r io.Reader, size int64) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("media: unsupported content type %q", contentType)
	}

	key := path.Join("avatars", userID+ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("media: upload %s: %w", key, err)
	}
	return key, nil
}

// URL returns a presigned GET link for an object key. Empty keys map to an
// empty URL so callers can pass stored values straight through.
func (s *Service) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, defaultURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Service) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("media: remove %s: %w", key, err)
	}
	return nil
}
