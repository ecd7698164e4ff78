package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCSStore writes objects to a Google Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	loc    Location
}

// NewGCSStore wraps a GCS client.
func NewGCSStore(client *gcs.Client, loc Location) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if loc.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{client: client, loc: loc}, nil
}

// PutObject uploads r under the store prefix and returns a gs:// URI.
func (s *GCSStore) PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullKey := s.loc.Key(key)
	writer := s.client.Bucket(s.loc.Bucket).Object(fullKey).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.loc.Bucket, fullKey), nil
}
