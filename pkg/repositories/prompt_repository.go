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

var promptScope = access.Columns{Owner: "p.created_by", Group: "p.group_id"}

// PromptRepository provides data access for prompt templates and their version history.
type PromptRepository interface {
	Create(ctx context.Context, prompt *models.Prompt) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Prompt, error)
	List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.Prompt, error)
	UpdateWithHistory(ctx context.Context, prompt *models.Prompt, changedBy *int64, summary string) error
	Delete(ctx context.Context, id int64) error
	Versions(ctx context.Context, promptID int64) ([]*models.PromptVersion, error)

	// GetActiveByName resolves an active prompt by name and category for groupID,
	// preferring the group's own prompt over a global one.
	GetActiveByName(ctx context.Context, name, category string, groupID *int64) (*models.Prompt, error)
	// UpsertGlobal inserts a global prompt unless one with the same name exists.
	// It reports whether a row was inserted.
	UpsertGlobal(ctx context.Context, prompt *models.Prompt) (bool, error)
}

type promptRepository struct{}

// NewPromptRepository creates a new PromptRepository.
func NewPromptRepository() PromptRepository {
	return &promptRepository{}
}

var _ PromptRepository = (*promptRepository)(nil)

const promptColumns = `p.id, p.name, p.category, p.prompt_type, p.content, p.variables, p.group_id,
	p.created_by, p.is_active, p.version, p.created_at, p.updated_at`

func (r *promptRepository) Create(ctx context.Context, prompt *models.Prompt) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO prompts (name, category, prompt_type, content, variables, group_id, created_by, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		prompt.Name, prompt.Category, prompt.PromptType, prompt.Content, textArray(prompt.Variables),
		prompt.GroupID, prompt.CreatedBy, prompt.IsActive,
	).Scan(&prompt.ID, &prompt.Version, &prompt.CreatedAt, &prompt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", database.MapError(err))
	}
	return nil
}

func (r *promptRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.Prompt, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(promptColumns).From("prompts p").
		Where(sq.Eq{"p.id": id}).
		Where(access.Scope(p, promptScope))
	return selectOne(ctx, scope.Conn, b, scanPromptRow)
}

func (r *promptRepository) List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.Prompt, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(promptColumns).From("prompts p").
		Where(access.Scope(p, promptScope)).
		OrderBy("p.name", "p.id")
	if filter.Category != "" {
		b = b.Where(sq.Eq{"p.category": filter.Category})
	}
	if filter.Active != nil {
		b = b.Where(sq.Eq{"p.is_active": *filter.Active})
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		b = b.Where(sq.Or{sq.ILike{"p.name": like}, sq.ILike{"p.content": like}})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanPromptRow)
}

func (r *promptRepository) UpdateWithHistory(ctx context.Context, prompt *models.Prompt, changedBy *int64, summary string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	return scope.InTx(ctx, func(tx pgx.Tx) error {
		var (
			version int
			content string
		)
		err := tx.QueryRow(ctx, `SELECT version, content FROM prompts WHERE id = $1 FOR UPDATE`, prompt.ID).
			Scan(&version, &content)
		if err != nil {
			return database.MapError(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO prompt_versions (prompt_id, version, content, change_summary, created_by)
			VALUES ($1, $2, $3, $4, $5)`,
			prompt.ID, version, content, summary, changedBy)
		if err != nil {
			return fmt.Errorf("failed to snapshot prompt: %w", database.MapError(err))
		}

		err = tx.QueryRow(ctx, `
			UPDATE prompts SET
				name = $2, category = $3, prompt_type = $4, content = $5, variables = $6,
				is_active = $7, version = $8, updated_at = now()
			WHERE id = $1
			RETURNING version, updated_at`,
			prompt.ID, prompt.Name, prompt.Category, prompt.PromptType, prompt.Content,
			textArray(prompt.Variables), prompt.IsActive, version+1,
		).Scan(&prompt.Version, &prompt.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update prompt: %w", database.MapError(err))
		}
		return nil
	})
}

func (r *promptRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("prompts").Where(sq.Eq{"id": id}))
}

func (r *promptRepository) Versions(ctx context.Context, promptID int64) ([]*models.PromptVersion, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("id, prompt_id, version, content, change_summary, created_by, created_at").
		From("prompt_versions").
		Where(sq.Eq{"prompt_id": promptID}).
		OrderBy("version DESC")
	return selectAll(ctx, scope.Conn, b, scanPromptVersionRow)
}

func (r *promptRepository) GetActiveByName(ctx context.Context, name, category string, groupID *int64) (*models.Prompt, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(promptColumns).From("prompts p").
		Where(sq.Eq{"p.name": name, "p.category": category, "p.is_active": true}).
		Where(access.GroupOrGlobal(groupID, "p.group_id")).
		OrderBy("p.group_id NULLS LAST").
		Limit(1)
	return selectOne(ctx, scope.Conn, b, scanPromptRow)
}

func (r *promptRepository) UpsertGlobal(ctx context.Context, prompt *models.Prompt) (bool, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO prompts (name, category, prompt_type, content, variables, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (name, COALESCE(group_id, 0)) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		prompt.Name, prompt.Category, prompt.PromptType, prompt.Content, textArray(prompt.Variables))
	if err != nil {
		return false, fmt.Errorf("failed to seed prompt %s: %w", prompt.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanPromptRow(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PromptType, &p.Content, &p.Variables, &p.GroupID,
		&p.CreatedBy, &p.IsActive, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prompt: %w", err)
	}
	return &p, nil
}

func scanPromptVersionRow(row pgx.Row) (*models.PromptVersion, error) {
	var v models.PromptVersion
	err := row.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.ChangeSummary, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan prompt version: %w", err)
	}
	return &v, nil
}
