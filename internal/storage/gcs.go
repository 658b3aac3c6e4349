package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore guarda adjuntos en un bucket de Google Cloud Storage.
type GCSStore struct {
	client     *gcs.Client
	bucketName string
	now        func() time.Time
}

// NewGCSStore crea el cliente; sin credsPath usa las credenciales por defecto del entorno.
func NewGCSStore(ctx context.Context, bucketName, credsPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credsPath != "" {
		if _, err := os.Stat(credsPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credsPath)
		}
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{
		client:     client,
		bucketName: bucketName,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *GCSStore) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	ref := objectName(filename, s.now())

	writer := s.client.Bucket(s.bucketName).Object(ref).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to copy attachment to GCS object %s: %w", ref, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", ref, err)
	}
	return ref, nil
}

func (s *GCSStore) URL(ref string) string {
	if !validRef(ref) {
		return ""
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, ref)
}

// Close libera el cliente de GCS.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
