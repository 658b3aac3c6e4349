package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore guarda adjuntos en disco y los sirve bajo baseURL.
type LocalStore struct {
	root    string
	baseURL string
	now     func() time.Time
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *LocalStore) Save(ctx context.Context, filename, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := objectName(filename, s.now())
	dst := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open attachment file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write attachment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close attachment file: %w", err)
	}
	return ref, nil
}

func (s *LocalStore) URL(ref string) string {
	if !validRef(ref) {
		return ""
	}
	return s.baseURL + "/" + ref
}

// Root devuelve el directorio servido como estático.
func (s *LocalStore) Root() string {
	return s.root
}
