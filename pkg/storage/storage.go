// Package storage keeps uploaded files, order documents and voice recordings
// on local disk or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/config"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("stored object not found")

// Store is an object store addressed by opaque keys.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
	Backend() string
}

// New builds the configured backend.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, logger)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Key prefixes per kind of stored object.
const (
	PrefixUploads    = "uploads"
	PrefixDocuments  = "documents"
	PrefixRecordings = "recordings"
)

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

func newULID(now time.Time) ulid.ULID {
	entropyOnce.Do(func() {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	})
	// MonotonicEntropy is not safe for concurrent use.
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}

// NewKey returns "<prefix>/<yyyy>/<mm>/<ulid><ext>", keeping the lowercased extension
// of the original file name.
func NewKey(prefix, originalName string) string {
	now := time.Now().UTC()
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(originalName, "\\", "/"))))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return fmt.Sprintf("%s/%04d/%02d/%s%s", prefix, now.Year(), int(now.Month()),
		strings.ToLower(newULID(now).String()), ext)
}

// validKey rejects keys that could escape the store root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}
