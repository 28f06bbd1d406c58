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

var apiConfigScope = access.Columns{Owner: "created_by", Group: "group_id"}

// APIConfigRepository provides data access for third-party API configurations.
// The encrypted key round-trips through APIKeyEncrypted; callers never see plaintext here.
type APIConfigRepository interface {
	Create(ctx context.Context, c *models.APIConfiguration) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.APIConfiguration, error)
	List(ctx context.Context, p models.Principal) ([]*models.APIConfiguration, error)
	Update(ctx context.Context, c *models.APIConfiguration) error
	Delete(ctx context.Context, id int64) error
}

type apiConfigRepository struct{}

// NewAPIConfigRepository creates a new APIConfigRepository.
func NewAPIConfigRepository() APIConfigRepository {
	return &apiConfigRepository{}
}

var _ APIConfigRepository = (*apiConfigRepository)(nil)

const apiConfigColumns = `id, name, api_type, provider, endpoint_url, api_key_encrypted, configuration,
	is_active, group_id, created_by, created_at, updated_at`

func (r *apiConfigRepository) Create(ctx context.Context, c *models.APIConfiguration) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_configurations (
			name, api_type, provider, endpoint_url, api_key_encrypted, configuration, is_active, group_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		c.Name, c.APIType, c.Provider, c.EndpointURL, c.APIKeyEncrypted, jsonMap(c.Configuration),
		c.IsActive, c.GroupID, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api configuration: %w", database.MapError(err))
	}
	c.HasAPIKey = c.APIKeyEncrypted != ""
	return nil
}

func (r *apiConfigRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.APIConfiguration, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(apiConfigColumns).From("api_configurations").
		Where(sq.Eq{"id": id}).
		Where(access.Scope(p, apiConfigScope))
	return selectOne(ctx, scope.Conn, b, scanAPIConfigRow)
}

func (r *apiConfigRepository) List(ctx context.Context, p models.Principal) ([]*models.APIConfiguration, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(apiConfigColumns).From("api_configurations").
		Where(access.Scope(p, apiConfigScope)).
		OrderBy("name", "id")
	return selectAll(ctx, scope.Conn, b, scanAPIConfigRow)
}

func (r *apiConfigRepository) Update(ctx context.Context, c *models.APIConfiguration) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE api_configurations SET
			name = $2, api_type = $3, provider = $4, endpoint_url = $5, api_key_encrypted = $6,
			configuration = $7, is_active = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		c.ID, c.Name, c.APIType, c.Provider, c.EndpointURL, c.APIKeyEncrypted, jsonMap(c.Configuration), c.IsActive,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update api configuration: %w", database.MapError(err))
	}
	c.HasAPIKey = c.APIKeyEncrypted != ""
	return nil
}

func (r *apiConfigRepository) Delete(ctx context.Context, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("api_configurations").Where(sq.Eq{"id": id}))
}

func scanAPIConfigRow(row pgx.Row) (*models.APIConfiguration, error) {
	var c models.APIConfiguration
	err := row.Scan(&c.ID, &c.Name, &c.APIType, &c.Provider, &c.EndpointURL, &c.APIKeyEncrypted,
		&c.Configuration, &c.IsActive, &c.GroupID, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan api configuration: %w", err)
	}
	c.HasAPIKey = c.APIKeyEncrypted != ""
	return &c, nil
}
