package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/models"
)

// SettingRepository provides data access for global system settings.
type SettingRepository interface {
	List(ctx context.Context) ([]*models.SystemSetting, error)
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
	// Upsert creates the setting or replaces its value and description.
	Upsert(ctx context.Context, s *models.SystemSetting) error
	Delete(ctx context.Context, key string) error
}

type settingRepository struct{}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository() SettingRepository {
	return &settingRepository{}
}

var _ SettingRepository = (*settingRepository)(nil)

func (r *settingRepository) List(ctx context.Context) ([]*models.SystemSetting, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("key, value, description, updated_at").From("system_settings").OrderBy("key")
	return selectAll(ctx, scope.Conn, b, scanSettingRow)
}

func (r *settingRepository) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select("key, value, description, updated_at").From("system_settings").Where(sq.Eq{"key": key})
	return selectOne(ctx, scope.Conn, b, scanSettingRow)
}

func (r *settingRepository) Upsert(ctx context.Context, s *models.SystemSetting) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO system_settings (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			updated_at = now()
		RETURNING updated_at`

	if err := scope.Conn.QueryRow(ctx, query, s.Key, s.Value, s.Description).Scan(&s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

func (r *settingRepository) Delete(ctx context.Context, key string) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Delete("system_settings").Where(sq.Eq{"key": key}))
}

func scanSettingRow(row pgx.Row) (*models.SystemSetting, error) {
	var s models.SystemSetting
	if err := row.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan setting: %w", err)
	}
	return &s, nil
}
