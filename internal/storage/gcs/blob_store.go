// Package gcs stores variant records in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket and an optional key prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// CacheControl is set on every object when non-empty.
	CacheControl string `mapstructure:"cache_control"`
}

// BlobStore writes objects to one bucket.
type BlobStore struct {
	client *storage.Client
	cfg    Config
}

// New wraps client for cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &BlobStore{client: client, cfg: cfg}, nil
}

// ObjectName joins the configured prefix and key.
func (s *BlobStore) ObjectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return path.Join(s.cfg.Prefix, key)
}

// PutObject streams r to the object at key and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("object key is required")
	}
	name := s.ObjectName(key)
	w := s.client.Bucket(s.cfg.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if s.cfg.CacheControl != "" {
		w.CacheControl = s.cfg.CacheControl
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write %s: %w (close: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, name), nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
