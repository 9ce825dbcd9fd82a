// Package objectstore implements the opaque KV object store spec.md
// lists as an external collaborator (§6.1): put/get/exists/delete by
// key, keyed by path. Backed by MinIO, adapted from
// iluha78-FD/internal/storage/minio.go: the teacher's byte-slice
// PutObject/GetObject are generalised to path-based put/get, since spec
// §4.2/§4.3/§4.7 pass ffmpeg output files by path, not in-memory bytes.
package objectstore

import (
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the concrete interface SPEC_FULL.md components code against.
// It is intentionally narrow: spec §6.1 lists exactly these four
// operations.
type Store interface {
	Put(ctx context.Context, key, localPath, contentType string) error
	Get(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Config mirrors iluha78-FD's MinIOConfig shape.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg Config) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads the file at localPath to the object store under key.
func (s *MinIOStore) Put(ctx context.Context, key, localPath, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get downloads key to localPath.
func (s *MinIOStore) Get(ctx context.Context, key, localPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("get object %s: %w", key, err)
	}
	return nil
}

// Exists probes for key's presence.
func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

var _ Store = (*MinIOStore)(nil)

// Key builders for spec §6.1's fixed key layout.
func SourceKey(user, video string) string       { return fmt.Sprintf("sources/%s/%s/source.mp4", user, video) }
func RawSegmentKey(user, video, scene string) string {
	return fmt.Sprintf("raw/%s/%s/%s.mp4", user, video, scene)
}
func SilenceKey(user, video, scene string) string {
	return fmt.Sprintf("silence/%s/%s/%s.mp4", user, video, scene)
}
func NeuralKey(user, video, scene string) string {
	return fmt.Sprintf("neural/%s/%s/%s.json", user, video, scene)
}
func ClipKey(user, video, clipID string) string {
	return fmt.Sprintf("clips/%s/%s/%s.mp4", user, video, clipID)
}
func ClipThumbnailKey(user, video, clipID string) string {
	return fmt.Sprintf("clips/%s/%s/%s.jpg", user, video, clipID)
}
