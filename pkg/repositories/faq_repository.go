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

var faqScope = access.Columns{Owner: "f.created_by", Group: "f.group_id"}

// FAQRepository provides data access for FAQs.
type FAQRepository interface {
	Create(ctx context.Context, faq *models.FAQ) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.FAQ, error)
	List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.FAQ, error)
	Update(ctx context.Context, faq *models.FAQ) error
	Delete(ctx context.Context, id int64) error
	// IncrementViews bumps view_count atomically and returns the new count.
	IncrementViews(ctx context.Context, id int64) (int, error)
	SearchShared(ctx context.Context, p models.Principal, query string, limit uint64) ([]*models.FAQ, error)
}

type faqRepository struct{}

// NewFAQRepository creates a new FAQRepository.
func NewFAQRepository() FAQRepository {
	return &faqRepository{}
}

var _ FAQRepository = (*faqRepository)(nil)

const faqColumns = `f.id, f.question, f.answer, f.category, f.tags, f.group_id, f.created_by,
	f.is_active, f.view_count, f.created_at, f.updated_at`

func (r *faqRepository) Create(ctx context.Context, faq *models.FAQ) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO faqs (question, answer, category, tags, group_id, created_by, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, view_count, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		faq.Question, faq.Answer, faq.Category, textArray(faq.Tags), faq.GroupID, faq.CreatedBy, faq.IsActive,
	).Scan(&faq.ID, &faq.ViewCount, &faq.CreatedAt, &faq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create faq: %w", database.MapError(err))
	}
	return nil
}

func (r *faqRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.FAQ, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(faqColumns).From("faqs f").
		Where(sq.Eq{"f.id": id}).
		Where(access.Scope(p, faqScope))
	return selectOne(ctx, scope.Conn, b, scanFAQRow)
}

func (r *faqRepository) List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.FAQ, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(faqColumns).From("faqs f").
		Where(access.Scope(p, faqScope)).
		OrderBy("f.view_count DESC", "f.id")
	if filter.Category != "" {
		b = b.Where(sq.Eq{"f.category": filter.Category})
	}
	if filter.Active != nil {
		b = b.Where(sq.Eq{"f.is_active": *filter.Active})
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		b = b.Where(sq.Or{sq.ILike{"f.question": like}, sq.ILike{"f.answer": like}})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanFAQRow)
}

func (r *faqRepository) Update(ctx context.Context, faq *models.FAQ) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE faqs SET
			question = $2, answer = $3, category = $4, tags = $5, is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		faq.ID, faq.Question, faq.Answer, faq.Category, textArray(faq.Tags), faq.IsActive,
	).Scan(&faq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update faq: %w", database.MapError(err))
	}
	return nil
}

func (r *faqRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("faqs").Where(sq.Eq{"id": id}))
}

func (r *faqRepository) IncrementViews(ctx context.Context, id int64) (int, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = scope.Conn.QueryRow(ctx,
		`UPDATE faqs SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`, id).Scan(&count)
	if err != nil {
		return 0, database.MapError(err)
	}
	return count, nil
}

func (r *faqRepository) SearchShared(ctx context.Context, p models.Principal, query string, limit uint64) ([]*models.FAQ, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	like := "%" + query + "%"
	b := psql.Select(faqColumns).From("faqs f").
		Where(sq.Eq{"f.is_active": true}).
		Where(access.Shared(p, "f.group_id")).
		Where(sq.Or{sq.ILike{"f.question": like}, sq.ILike{"f.answer": like}}).
		OrderBy("f.view_count DESC", "f.id").
		Limit(limit)
	return selectAll(ctx, scope.Conn, b, scanFAQRow)
}

func scanFAQRow(row pgx.Row) (*models.FAQ, error) {
	var f models.FAQ
	err := row.Scan(&f.ID, &f.Question, &f.Answer, &f.Category, &f.Tags, &f.GroupID, &f.CreatedBy,
		&f.IsActive, &f.ViewCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan faq: %w", err)
	}
	return &f, nil
}
