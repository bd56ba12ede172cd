package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalStore keeps objects on the local filesystem under basePath.
type LocalStore struct {
	basePath string
	log      zerolog.Logger
}

func NewLocalStore(basePath string, log zerolog.Logger) (*LocalStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("content: storage_path is required for the local backend")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("content: create storage directory: %w", err)
	}

	logger := log.With().Str("component", "local-store").Logger()
	logger.Info().Str("path", basePath).Msg("local content store initialized")
	return &LocalStore{basePath: basePath, log: logger}, nil
}

func (l *LocalStore) fullPath(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

func (l *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := l.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("content: stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// Write streams body into a temp file next to the target and renames it into place.
func (l *LocalStore) Write(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	p, err := l.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("content: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("content: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("content: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("content: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("content: rename %s: %w", key, err)
	}

	l.log.Debug().Str("key", key).Int64("bytes", written).Msg("object written")
	return nil
}

func (l *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("content: open %s: %w", key, err)
	}
	return f, nil
}

func (l *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("content: delete %s: %w", key, err)
	}
	return nil
}

// Health checks that the storage directory is writable.
func (l *LocalStore) Health(ctx context.Context) error {
	probe := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("content: storage directory not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}
