package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"easyimg/internal/config"
)

// ObjectStore persists image files in a single MinIO bucket keyed by filename.
type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

func (s *ObjectStore) SaveFile(ctx context.Context, filename string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, filename, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", filename, err)
	}
	return nil
}

func (s *ObjectStore) ReadFile(ctx context.Context, filename string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", filename, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", filename, err)
	}
	return data, nil
}

func (s *ObjectStore) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, filename, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", filename, err)
	}
	return true, nil
}

func (s *ObjectStore) Remove(ctx context.Context, filename string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, filename, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", filename, err)
	}
	return nil
}

// PublicURL builds the browser-facing URL for a stored image.
func (s *ObjectStore) PublicURL(filename string) string {
	base := strings.TrimSuffix(s.cfg.PublicURL, "/")
	if base == "" {
		base = strings.TrimSuffix(s.cfg.Endpoint, "/")
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "https://" + base
		}
		base = fmt.Sprintf("%s/%s", base, s.cfg.Bucket)
	}
	return fmt.Sprintf("%s/%s", base, filename)
}
