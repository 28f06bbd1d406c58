package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// LocalStore keeps objects under a base directory.
type LocalStore struct {
	basePath string
	logger   *zap.Logger
}

func NewLocalStore(basePath string, logger *zap.Logger) (*LocalStore, error) {
	if basePath == "" {
		return nil, errors.New("local storage directory must be set")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	logger = logger.Named("storage")
	logger.Info("Local storage initialized", zap.String("path", basePath))
	return &LocalStore{basePath: basePath, logger: logger}, nil
}

func (l *LocalStore) Backend() string { return "local" }

func (l *LocalStore) fullPath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, filepath.FromSlash(key)), nil
}

// Put writes to a temp file and renames it into place so readers never see partial objects.
func (l *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	fullPath, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	written, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}

	l.logger.Debug("Stored object",
		zap.String("key", key),
		zap.Int64("bytes", written),
		zap.String("content_type", contentType))
	return nil
}

// Get opens the object. The content type is sniffed since local files carry no metadata.
func (l *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	fullPath, err := l.fullPath(key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to rewind file: %w", err)
	}
	return f, mtype.String(), nil
}

// Delete removes the object. Missing objects are not an error.
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	fullPath, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Health checks that the base directory is writable.
func (l *LocalStore) Health(ctx context.Context) error {
	probe := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

var _ Store = (*LocalStore)(nil)
