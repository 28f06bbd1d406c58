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

// NotificationRepository provides data access for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.Notification, error)
	List(ctx context.Context, p models.Principal, unreadOnly bool, page Page) ([]*models.Notification, error)
	MarkRead(ctx context.Context, p models.Principal, id int64) error
	// MarkAllRead marks every visible unread notification read and returns how many changed.
	MarkAllRead(ctx context.Context, p models.Principal) (int64, error)
	UnreadCount(ctx context.Context, p models.Principal) (int64, error)
}

type notificationRepository struct{}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository() NotificationRepository {
	return &notificationRepository{}
}

var _ NotificationRepository = (*notificationRepository)(nil)

const notificationColumns = `id, title, message, notification_type, user_id, group_id, is_read,
	expires_at, metadata, created_at`

// notificationVisible is the role scope plus broadcasts to the principal's group
// (user_id NULL), excluding expired rows.
func notificationVisible(p models.Principal) sq.Sqlizer {
	return sq.And{
		sq.Or{
			access.Scope(p, access.Columns{Owner: "user_id", Group: "group_id"}),
			sq.And{sq.Eq{"user_id": nil}, access.GroupOrGlobal(p.GroupID, "group_id")},
		},
		sq.Expr("(expires_at IS NULL OR expires_at > now())"),
	}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (title, message, notification_type, user_id, group_id, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, is_read, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		n.Title, n.Message, n.Type, n.UserID, n.GroupID, n.ExpiresAt, jsonMap(n.Metadata),
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", database.MapError(err))
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.Notification, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(notificationColumns).From("notifications").
		Where(sq.Eq{"id": id}).
		Where(notificationVisible(p))
	return selectOne(ctx, scope.Conn, b, scanNotificationRow)
}

func (r *notificationRepository) List(ctx context.Context, p models.Principal, unreadOnly bool, page Page) ([]*models.Notification, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(notificationColumns).From("notifications").
		Where(notificationVisible(p)).
		OrderBy("created_at DESC", "id DESC")
	if unreadOnly {
		b = b.Where(sq.Eq{"is_read": false})
	}
	return selectAll(ctx, scope.Conn, page.apply(b), scanNotificationRow)
}

func (r *notificationRepository) MarkRead(ctx context.Context, p models.Principal, id int64) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}
	return execAffected(ctx, scope.Conn, psql.Update("notifications").
		Set("is_read", true).
		Where(sq.Eq{"id": id}).
		Where(notificationVisible(p)))
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, p models.Principal) (int64, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return 0, err
	}
	sql, args, err := psql.Update("notifications").
		Set("is_read", true).
		Where(sq.Eq{"is_read": false}).
		Where(notificationVisible(p)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build statement: %w", err)
	}
	tag, err := scope.Conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, p models.Principal) (int64, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return 0, err
	}
	return countWhere(ctx, scope.Conn, psql.Select("count(*)").From("notifications").
		Where(sq.Eq{"is_read": false}).
		Where(notificationVisible(p)))
}

func scanNotificationRow(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.UserID, &n.GroupID, &n.IsRead,
		&n.ExpiresAt, &n.Metadata, &n.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	return &n, nil
}
