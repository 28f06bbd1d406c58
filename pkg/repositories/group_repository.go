package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

// GroupRepository provides data access for groups.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, id int64) (*models.Group, error)
	// List returns groups; a non-nil onlyID restricts the result to that group.
	List(ctx context.Context, onlyID *int64) ([]*models.Group, error)
	Update(ctx context.Context, group *models.Group) error
	Delete(ctx context.Context, id int64) error
}

type groupRepository struct{}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository() GroupRepository {
	return &groupRepository{}
}

var _ GroupRepository = (*groupRepository)(nil)

const groupColumns = `g.id, g.name, g.description, g.is_active, g.settings, g.created_by, g.created_at, g.updated_at,
	(SELECT count(*) FROM users u WHERE u.group_id = g.id)`

func (r *groupRepository) Create(ctx context.Context, group *models.Group) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO groups (name, description, is_active, settings, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		group.Name, group.Description, group.IsActive, jsonMap(group.Settings), group.CreatedBy,
	).Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", database.MapError(err))
	}
	return nil
}

func (r *groupRepository) GetByID(ctx context.Context, id int64) (*models.Group, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(groupColumns).From("groups g").Where(sq.Eq{"g.id": id})
	return selectOne(ctx, scope.Conn, b, scanGroupRow)
}

func (r *groupRepository) List(ctx context.Context, onlyID *int64) ([]*models.Group, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(groupColumns).From("groups g").OrderBy("g.name")
	if onlyID != nil {
		b = b.Where(sq.Eq{"g.id": *onlyID})
	}
	return selectAll(ctx, scope.Conn, b, scanGroupRow)
}

func (r *groupRepository) Update(ctx context.Context, group *models.Group) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE groups
		SET name = $2, description = $3, is_active = $4, settings = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		group.ID, group.Name, group.Description, group.IsActive, jsonMap(group.Settings),
	).Scan(&group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", database.MapError(err))
	}
	return nil
}

func (r *groupRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("groups").Where(sq.Eq{"id": id}))
}

func scanGroupRow(row pgx.Row) (*models.Group, error) {
	var g models.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.IsActive, &g.Settings, &g.CreatedBy,
		&g.CreatedAt, &g.UpdatedAt, &g.UserCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	return &g, nil
}
