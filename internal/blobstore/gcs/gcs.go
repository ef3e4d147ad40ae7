// Package gcs archives raw page bodies in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Store writes objects into one bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a GCS-backed store. It authenticates with Application
// Default Credentials.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PutObject uploads data under path and returns its gs:// URI.
func (s *Store) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
