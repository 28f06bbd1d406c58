package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/metrics"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/storage"
)

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// storedObject is an upload written to the object store.
type storedObject struct {
	Key      string
	MimeType string
	Kind     string
}

// putUpload sniffs the upload, optionally checks its kind, and writes it under prefix.
// accept may be nil to allow any kind.
func putUpload(ctx context.Context, store storage.Store, prefix string, up Upload, accept func(*storage.Sniffed) bool) (*storedObject, error) {
	if up.Size == 0 {
		return nil, validationError("file is empty")
	}
	sniffed, err := storage.Sniff(up.Body)
	if err != nil {
		return nil, err
	}
	if accept != nil && !accept(sniffed) {
		metrics.RecordUpload(sniffed.Kind, "rejected", up.Size)
		return nil, validationError("unsupported file type %s", sniffed.MimeType)
	}

	key := storage.NewKey(prefix, up.Filename)
	if err := store.Put(ctx, key, sniffed.Body, up.Size, sniffed.MimeType); err != nil {
		metrics.RecordUpload(sniffed.Kind, "error", up.Size)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	metrics.RecordUpload(sniffed.Kind, "success", up.Size)
	return &storedObject{Key: key, MimeType: sniffed.MimeType, Kind: sniffed.Kind}, nil
}

// discard removes an object whose database row could not be written.
func discard(ctx context.Context, store storage.Store, key string, logger *zap.Logger) {
	if err := store.Delete(ctx, key); err != nil {
		logger.Warn("Failed to remove orphaned object", zap.String("key", key), zap.Error(err))
	}
}

// FileService stores general-purpose uploads.
type FileService interface {
	Upload(ctx context.Context, p models.Principal, up Upload) (*models.FileUpload, error)
	Get(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, error)
	List(ctx context.Context, p models.Principal, fileType string, page repositories.Page) ([]*models.FileUpload, error)
	// Open streams the stored content. The caller closes the reader.
	Open(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, io.ReadCloser, error)
	Delete(ctx context.Context, p models.Principal, id int64) error
}

type fileService struct {
	repo     repositories.FileRepository
	store    storage.Store
	activity ActivityService
	logger   *zap.Logger
}

func NewFileService(repo repositories.FileRepository, store storage.Store, activity ActivityService, logger *zap.Logger) FileService {
	return &fileService{
		repo:     repo,
		store:    store,
		activity: activity,
		logger:   logger.Named("files"),
	}
}

var _ FileService = (*fileService)(nil)

func (s *fileService) Upload(ctx context.Context, p models.Principal, up Upload) (*models.FileUpload, error) {
	obj, err := putUpload(ctx, s.store, storage.PrefixUploads, up, nil)
	if err != nil {
		s.logger.Error("Failed to store upload", zap.Int64("user_id", p.UserID), zap.Error(err))
		return nil, err
	}

	file := &models.FileUpload{
		StorageKey:   obj.Key,
		OriginalName: filepath.Base(up.Filename),
		FileType:     obj.Kind,
		Size:         up.Size,
		MimeType:     obj.MimeType,
		UploadedBy:   p.UserID,
		GroupID:      p.GroupID,
	}
	if err := s.repo.Create(ctx, file); err != nil {
		s.logger.Error("Failed to record upload", zap.String("key", obj.Key), zap.Error(err))
		discard(ctx, s.store, obj.Key, s.logger)
		return nil, err
	}

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionFileUpload,
		ResourceType: "file",
		ResourceID:   ptr(file.ID),
		Metadata:     map[string]any{"file_type": file.FileType, "size": file.Size},
	})
	s.logger.Info("File uploaded",
		zap.Int64("file_id", file.ID),
		zap.String("file_type", file.FileType),
		zap.Int64("size", file.Size))
	return file, nil
}

func (s *fileService) Get(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, error) {
	return s.repo.Get(ctx, p, id)
}

func (s *fileService) List(ctx context.Context, p models.Principal, fileType string, page repositories.Page) ([]*models.FileUpload, error) {
	return s.repo.List(ctx, p, fileType, page)
}

func (s *fileService) Open(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, io.ReadCloser, error) {
	file, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.store.Get(ctx, file.StorageKey)
	if err != nil {
		s.logger.Error("Failed to open stored file", zap.Int64("file_id", id), zap.Error(err))
		return nil, nil, err
	}
	return file, rc, nil
}

func (s *fileService) Delete(ctx context.Context, p models.Principal, id int64) error {
	file, err := s.repo.Get(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete file", zap.Int64("file_id", id), zap.Error(err))
		return err
	}
	discard(ctx, s.store, file.StorageKey, s.logger)

	s.activity.Record(ctx, p, ActivityEvent{
		Action:       models.ActionDelete,
		ResourceType: "file",
		ResourceID:   ptr(id),
	})
	return nil
}
