package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

// UserFilter narrows user lists. A nil GroupID lists every group.
type UserFilter struct {
	GroupID *int64
	Role    string
	Active  *bool
	Page
}

// UserRepository provides data access for users and their permission grants.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter UserFilter) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	ListPermissions(ctx context.Context, userID int64) ([]*models.UserPermission, error)
	GrantPermission(ctx context.Context, perm *models.UserPermission) error
	RevokePermission(ctx context.Context, userID int64, permission string) error
}

type userRepository struct{}

// NewUserRepository creates a new UserRepository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

const userColumns = `id, email, password, first_name, last_name, phone, role, group_id, created_by,
	is_active, is_verified, metadata, last_login, date_joined, updated_at`

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (
			email, password, first_name, last_name, phone, role, group_id, created_by,
			is_active, is_verified, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, date_joined, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		strings.ToLower(user.Email), user.Password, user.FirstName, user.LastName, user.Phone,
		user.Role, user.GroupID, user.CreatedBy, user.IsActive, user.IsVerified, jsonMap(user.Metadata),
	).Scan(&user.ID, &user.DateJoined, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", database.MapError(err))
	}
	user.Email = strings.ToLower(user.Email)
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUserRow(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, database.MapError(err)
	}
	if user.Permissions, err = r.permissionNames(ctx, scope.Conn, id); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	user, err := scanUserRow(scope.Conn.QueryRow(ctx, query, email))
	if err != nil {
		return nil, database.MapError(err)
	}
	return user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(userColumns).From("users").OrderBy("date_joined DESC", "id DESC")
	if filter.GroupID != nil {
		b = b.Where(sq.Eq{"group_id": *filter.GroupID})
	}
	if filter.Role != "" {
		b = b.Where(sq.Eq{"role": filter.Role})
	}
	if filter.Active != nil {
		b = b.Where(sq.Eq{"is_active": *filter.Active})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanUserRow)
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE users SET
			email = $2, first_name = $3, last_name = $4, phone = $5, role = $6,
			group_id = $7, is_active = $8, is_verified = $9, metadata = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		user.ID, strings.ToLower(user.Email), user.FirstName, user.LastName, user.Phone, user.Role,
		user.GroupID, user.IsActive, user.IsVerified, jsonMap(user.Metadata),
	).Scan(&user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", database.MapError(err))
	}
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Update("users").
		Set("password", hash).Set("updated_at", sq.Expr("now()")).Where(sq.Eq{"id": id}))
}

func (r *userRepository) SetActive(ctx context.Context, id int64, active bool) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Update("users").
		Set("is_active", active).Set("updated_at", sq.Expr("now()")).Where(sq.Eq{"id": id}))
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Update("users").Set("last_login", at).Where(sq.Eq{"id": id}))
}

func (r *userRepository) ListPermissions(ctx context.Context, userID int64) ([]*models.UserPermission, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select("id, user_id, permission, granted_by, granted_at").
		From("user_permissions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("permission")
	return selectAll(ctx, scope.Conn, b, scanUserPermissionRow)
}

func (r *userRepository) GrantPermission(ctx context.Context, perm *models.UserPermission) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_permissions (user_id, permission, granted_by)
		VALUES ($1, $2, $3)
		RETURNING id, granted_at`

	err = scope.Conn.QueryRow(ctx, query, perm.UserID, perm.Permission, perm.GrantedBy).
		Scan(&perm.ID, &perm.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", database.MapError(err))
	}
	return nil
}

func (r *userRepository) RevokePermission(ctx context.Context, userID int64, permission string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("user_permissions").
		Where(sq.Eq{"user_id": userID, "permission": permission}))
}

func (r *userRepository) permissionNames(ctx context.Context, q querier, userID int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan permissions: %w", err)
	}
	return names, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanUserRow(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Password, &u.FirstName, &u.LastName, &u.Phone, &u.Role,
		&u.GroupID, &u.CreatedBy, &u.IsActive, &u.IsVerified, &u.Metadata, &u.LastLogin,
		&u.DateJoined, &u.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func scanUserPermissionRow(row pgx.Row) (*models.UserPermission, error) {
	var p models.UserPermission
	if err := row.Scan(&p.ID, &p.UserID, &p.Permission, &p.GrantedBy, &p.GrantedAt); err != nil {
		return nil, fmt.Errorf("failed to scan user permission: %w", err)
	}
	return &p, nil
}
