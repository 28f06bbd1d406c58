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

var knowledgeScope = access.Columns{Owner: "k.created_by", Group: "k.group_id"}

// ContentFilter narrows knowledge, prompt and FAQ lists.
type ContentFilter struct {
	Category string
	// Query matches case-insensitively against the text columns.
	Query  string
	Active *bool
	Page
}

// KnowledgeRepository provides data access for knowledge entries and their version history.
type KnowledgeRepository interface {
	Create(ctx context.Context, entry *models.KnowledgeEntry) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.KnowledgeEntry, error)
	List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.KnowledgeEntry, error)
	// UpdateWithHistory snapshots the stored entry as a version row, then writes entry
	// with the next version number, in one transaction.
	UpdateWithHistory(ctx context.Context, entry *models.KnowledgeEntry, changedBy *int64, summary string) error
	Delete(ctx context.Context, id int64) error
	Versions(ctx context.Context, entryID int64) ([]*models.KnowledgeVersion, error)

	// ActiveForGroup lists active entries of groupID plus global ones, newest first.
	ActiveForGroup(ctx context.Context, groupID *int64) ([]*models.KnowledgeEntry, error)
	// SearchShared matches active entries readable by the assistant on behalf of p.
	SearchShared(ctx context.Context, p models.Principal, query string, limit uint64) ([]*models.KnowledgeEntry, error)
}

type knowledgeRepository struct{}

// NewKnowledgeRepository creates a new KnowledgeRepository.
func NewKnowledgeRepository() KnowledgeRepository {
	return &knowledgeRepository{}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

const knowledgeColumns = `k.id, k.title, k.content, k.category, k.subcategory, k.tags, k.group_id,
	k.created_by, k.is_active, k.version, k.metadata, k.created_at, k.updated_at`

func (r *knowledgeRepository) Create(ctx context.Context, entry *models.KnowledgeEntry) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO knowledge_entries (
			title, content, category, subcategory, tags, group_id, created_by, is_active, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		entry.Title, entry.Content, entry.Category, entry.Subcategory, textArray(entry.Tags),
		entry.GroupID, entry.CreatedBy, entry.IsActive, jsonMap(entry.Metadata),
	).Scan(&entry.ID, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge entry: %w", database.MapError(err))
	}
	return nil
}

func (r *knowledgeRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.KnowledgeEntry, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(knowledgeColumns).From("knowledge_entries k").
		Where(sq.Eq{"k.id": id}).
		Where(access.Scope(p, knowledgeScope))
	return selectOne(ctx, scope.Conn, b, scanKnowledgeRow)
}

func (r *knowledgeRepository) List(ctx context.Context, p models.Principal, filter ContentFilter) ([]*models.KnowledgeEntry, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(knowledgeColumns).From("knowledge_entries k").
		Where(access.Scope(p, knowledgeScope)).
		OrderBy("k.created_at DESC", "k.id DESC")
	if filter.Category != "" {
		b = b.Where(sq.Eq{"k.category": filter.Category})
	}
	if filter.Active != nil {
		b = b.Where(sq.Eq{"k.is_active": *filter.Active})
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		b = b.Where(sq.Or{
			sq.ILike{"k.title": like},
			sq.ILike{"k.content": like},
			sq.Expr("array_to_string(k.tags, ' ') ILIKE ?", like),
		})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanKnowledgeRow)
}

func (r *knowledgeRepository) UpdateWithHistory(ctx context.Context, entry *models.KnowledgeEntry, changedBy *int64, summary string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	return scope.InTx(ctx, func(tx pgx.Tx) error {
		var (
			version        int
			title, content string
		)
		err := tx.QueryRow(ctx,
			`SELECT version, title, content FROM knowledge_entries WHERE id = $1 FOR UPDATE`, entry.ID,
		).Scan(&version, &title, &content)
		if err != nil {
			return database.MapError(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO knowledge_versions (knowledge_entry_id, version, title, content, change_summary, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, version, title, content, summary, changedBy)
		if err != nil {
			return fmt.Errorf("failed to snapshot knowledge entry: %w", database.MapError(err))
		}

		err = tx.QueryRow(ctx, `
			UPDATE knowledge_entries SET
				title = $2, content = $3, category = $4, subcategory = $5, tags = $6,
				is_active = $7, metadata = $8, version = $9, updated_at = now()
			WHERE id = $1
			RETURNING version, updated_at`,
			entry.ID, entry.Title, entry.Content, entry.Category, entry.Subcategory, textArray(entry.Tags),
			entry.IsActive, jsonMap(entry.Metadata), version+1,
		).Scan(&entry.Version, &entry.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update knowledge entry: %w", database.MapError(err))
		}
		return nil
	})
}

func (r *knowledgeRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("knowledge_entries").Where(sq.Eq{"id": id}))
}

func (r *knowledgeRepository) Versions(ctx context.Context, entryID int64) ([]*models.KnowledgeVersion, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("id, knowledge_entry_id, version, title, content, change_summary, created_by, created_at").
		From("knowledge_versions").
		Where(sq.Eq{"knowledge_entry_id": entryID}).
		OrderBy("version DESC")
	return selectAll(ctx, scope.Conn, b, scanKnowledgeVersionRow)
}

func (r *knowledgeRepository) ActiveForGroup(ctx context.Context, groupID *int64) ([]*models.KnowledgeEntry, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(knowledgeColumns).From("knowledge_entries k").
		Where(sq.Eq{"k.is_active": true}).
		Where(access.GroupOrGlobal(groupID, "k.group_id")).
		OrderBy("k.created_at DESC", "k.id DESC")
	return selectAll(ctx, scope.Conn, b, scanKnowledgeRow)
}

func (r *knowledgeRepository) SearchShared(ctx context.Context, p models.Principal, query string, limit uint64) ([]*models.KnowledgeEntry, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	like := "%" + query + "%"
	b := psql.Select(knowledgeColumns).From("knowledge_entries k").
		Where(sq.Eq{"k.is_active": true}).
		Where(access.Shared(p, "k.group_id")).
		Where(sq.Or{sq.ILike{"k.title": like}, sq.ILike{"k.content": like}}).
		OrderBy("k.created_at DESC", "k.id DESC").
		Limit(limit)
	return selectAll(ctx, scope.Conn, b, scanKnowledgeRow)
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanKnowledgeRow(row pgx.Row) (*models.KnowledgeEntry, error) {
	var k models.KnowledgeEntry
	err := row.Scan(&k.ID, &k.Title, &k.Content, &k.Category, &k.Subcategory, &k.Tags, &k.GroupID,
		&k.CreatedBy, &k.IsActive, &k.Version, &k.Metadata, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
	}
	return &k, nil
}

func scanKnowledgeVersionRow(row pgx.Row) (*models.KnowledgeVersion, error) {
	var v models.KnowledgeVersion
	err := row.Scan(&v.ID, &v.EntryID, &v.Version, &v.Title, &v.Content, &v.ChangeSummary, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge version: %w", err)
	}
	return &v, nil
}
