package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/access"
	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

var fileScope = access.Columns{Owner: "uploaded_by", Group: "group_id"}

// FileRepository provides data access for uploaded file metadata.
type FileRepository interface {
	Create(ctx context.Context, f *models.FileUpload) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, error)
	List(ctx context.Context, p models.Principal, fileType string, page Page) ([]*models.FileUpload, error)
	Delete(ctx context.Context, id int64) error
}

type fileRepository struct{}

// NewFileRepository creates a new FileRepository.
func NewFileRepository() FileRepository {
	return &fileRepository{}
}

var _ FileRepository = (*fileRepository)(nil)

const fileColumns = `id, storage_key, original_name, file_type, size, mime_type, uploaded_by, group_id, created_at`

func (r *fileRepository) Create(ctx context.Context, f *models.FileUpload) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO file_uploads (storage_key, original_name, file_type, size, mime_type, uploaded_by, group_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		f.StorageKey, f.OriginalName, f.FileType, f.Size, f.MimeType, f.UploadedBy, f.GroupID,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file upload: %w", database.MapError(err))
	}
	return nil
}

func (r *fileRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.FileUpload, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(fileColumns).From("file_uploads").
		Where(sq.Eq{"id": id}).
		Where(access.Scope(p, fileScope))
	return selectOne(ctx, scope.Conn, b, scanFileRow)
}

func (r *fileRepository) List(ctx context.Context, p models.Principal, fileType string, page Page) ([]*models.FileUpload, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(fileColumns).From("file_uploads").
		Where(access.Scope(p, fileScope)).
		OrderBy("created_at DESC", "id DESC")
	if fileType != "" {
		b = b.Where(sq.Eq{"file_type": fileType})
	}
	return selectAll(ctx, scope.Conn, page.apply(b), scanFileRow)
}

func (r *fileRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("file_uploads").Where(sq.Eq{"id": id}))
}

func scanFileRow(row pgx.Row) (*models.FileUpload, error) {
	var f models.FileUpload
	err := row.Scan(&f.ID, &f.StorageKey, &f.OriginalName, &f.FileType, &f.Size, &f.MimeType,
		&f.UploadedBy, &f.GroupID, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan file upload: %w", err)
	}
	return &f, nil
}
