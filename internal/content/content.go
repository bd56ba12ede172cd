// Package content stores image bytes under slash-separated keys such as
// "product/shirt-01.png". Backends are interchangeable: the local filesystem,
// an S3-compatible bucket, or process memory.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"mediaingest/internal/models"
)

var (
	ErrNotFound   = errors.New("content: object not found")
	ErrInvalidKey = errors.New("content: invalid key")
)

type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Write replaces the object at key. Readers never observe a partial object.
	Write(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// NewStore builds the backend selected by cfg.StorageBackend.
func NewStore(ctx context.Context, cfg *models.Config, log zerolog.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case "local":
		return NewLocalStore(cfg.StoragePath, log)
	case "s3":
		return NewS3Store(ctx, cfg, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("content: unsupported backend %q", cfg.StorageBackend)
	}
}

// CleanKey normalises key and rejects anything that could escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// Copy duplicates the object at src into dst within the same store.
func Copy(ctx context.Context, s Store, src, dst, contentType string) error {
	r, err := s.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return s.Write(ctx, dst, r, -1, contentType)
}
