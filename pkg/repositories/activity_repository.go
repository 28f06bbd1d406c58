package repositories

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/omnifin/backoffice/pkg/access"
	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/models"
)

var (
	activityScope   = access.Columns{Owner: "a.user_id", Group: "a.group_id"}
	engagementScope = access.Columns{Owner: "e.user_id", Group: "e.group_id"}
)

// ActivityFilter narrows activity lists.
type ActivityFilter struct {
	UserID *int64
	Action string
	Since  *time.Time
	Page
}

// ActivityRepository appends and aggregates user activity and daily engagement.
// Activity rows are never updated.
type ActivityRepository interface {
	Create(ctx context.Context, a *models.UserActivity) error
	Get(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error)
	List(ctx context.Context, p models.Principal, filter ActivityFilter) ([]*models.UserActivity, error)
	Counts(ctx context.Context, p models.Principal, w models.Windows) (models.ActivityCounts, error)
	Trends(ctx context.Context, p models.Principal, since time.Time) ([]models.TrendPoint, error)

	// BumpEngagement adds delta to the (user, date) counters, creating the row if needed.
	BumpEngagement(ctx context.Context, userID int64, groupID *int64, date time.Time, delta models.EngagementDelta) error
	ListEngagement(ctx context.Context, p models.Principal, page Page) ([]*models.UserEngagement, error)
	EngagementTotals(ctx context.Context, p models.Principal, since time.Time) (models.EngagementTotals, error)
}

type activityRepository struct{}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository() ActivityRepository {
	return &activityRepository{}
}

var _ ActivityRepository = (*activityRepository)(nil)

const activityColumns = `a.id, a.user_id, a.group_id, a.action, a.resource_type, a.resource_id, a.description,
	a.ip_address, a.user_agent, a.session_id, a.metadata, a.created_at`

func (r *activityRepository) Create(ctx context.Context, a *models.UserActivity) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_activities (
			user_id, group_id, action, resource_type, resource_id, description,
			ip_address, user_agent, session_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		a.UserID, a.GroupID, a.Action, a.ResourceType, a.ResourceID, a.Description,
		a.IPAddress, a.UserAgent, a.SessionID, jsonMap(a.Metadata),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", database.MapError(err))
	}
	return nil
}

func (r *activityRepository) Get(ctx context.Context, p models.Principal, id int64) (*models.UserActivity, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(activityColumns).From("user_activities a").
		Where(sq.Eq{"a.id": id}).
		Where(access.Scope(p, activityScope))
	return selectOne(ctx, scope.Conn, b, scanActivityRow)
}

func (r *activityRepository) List(ctx context.Context, p models.Principal, filter ActivityFilter) ([]*models.UserActivity, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	b := psql.Select(activityColumns).From("user_activities a").
		Where(access.Scope(p, activityScope)).
		OrderBy("a.created_at DESC", "a.id DESC")
	if filter.UserID != nil {
		b = b.Where(sq.Eq{"a.user_id": *filter.UserID})
	}
	if filter.Action != "" {
		b = b.Where(sq.Eq{"a.action": filter.Action})
	}
	if filter.Since != nil {
		b = b.Where(sq.GtOrEq{"a.created_at": *filter.Since})
	}
	return selectAll(ctx, scope.Conn, filter.Page.apply(b), scanActivityRow)
}

func (r *activityRepository) Counts(ctx context.Context, p models.Principal, w models.Windows) (models.ActivityCounts, error) {
	var counts models.ActivityCounts
	scope, err := requestScope(ctx)
	if err != nil {
		return counts, err
	}

	sql, args, err := psql.Select("count(*)").
		Column(sq.Expr("count(*) FILTER (WHERE a.created_at >= ?)", w.Today)).
		Column(sq.Expr("count(*) FILTER (WHERE a.created_at >= ?)", w.Last7Days)).
		Column(sq.Expr("count(*) FILTER (WHERE a.created_at >= ?)", w.Last30Days)).
		From("user_activities a").
		Where(access.Scope(p, activityScope)).
		ToSql()
	if err != nil {
		return counts, fmt.Errorf("failed to build query: %w", err)
	}

	err = scope.Conn.QueryRow(ctx, sql, args...).
		Scan(&counts.Total, &counts.Today, &counts.Last7Days, &counts.Last30Days)
	if err != nil {
		return counts, fmt.Errorf("failed to count activities: %w", err)
	}
	return counts, nil
}

func (r *activityRepository) Trends(ctx context.Context, p models.Principal, since time.Time) ([]models.TrendPoint, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}

	sql, args, err := psql.Select("to_char(date_trunc('day', a.created_at), 'YYYY-MM-DD') AS day", "a.action", "count(*)").
		From("user_activities a").
		Where(access.Scope(p, activityScope)).
		Where(sq.GtOrEq{"a.created_at": since}).
		GroupBy("day", "a.action").
		OrderBy("day", "a.action").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trends: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TrendPoint, error) {
		var tp models.TrendPoint
		err := row.Scan(&tp.Date, &tp.Action, &tp.Count)
		return tp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan trends: %w", err)
	}
	return points, nil
}

// ============================================================================
// Engagement
// ============================================================================

func (r *activityRepository) BumpEngagement(ctx context.Context, userID int64, groupID *int64, date time.Time, delta models.EngagementDelta) error {
	scope, err := requestScope(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_engagement (
			user_id, group_id, date, page_views, conversations_count, messages_sent,
			orders_created, files_uploaded, unique_sessions
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (user_id, date) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			page_views = user_engagement.page_views + EXCLUDED.page_views,
			conversations_count = user_engagement.conversations_count + EXCLUDED.conversations_count,
			messages_sent = user_engagement.messages_sent + EXCLUDED.messages_sent,
			orders_created = user_engagement.orders_created + EXCLUDED.orders_created,
			files_uploaded = user_engagement.files_uploaded + EXCLUDED.files_uploaded`

	_, err = scope.Conn.Exec(ctx, query,
		userID, groupID, date,
		delta.PageViews, delta.ConversationsCount, delta.MessagesSent, delta.OrdersCreated, delta.FilesUploaded,
	)
	if err != nil {
		return fmt.Errorf("failed to bump engagement: %w", err)
	}
	return nil
}

func (r *activityRepository) ListEngagement(ctx context.Context, p models.Principal, page Page) ([]*models.UserEngagement, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	b := psql.Select(`e.user_id, e.group_id, e.date, e.session_duration, e.page_views, e.conversations_count,
		e.messages_sent, e.orders_created, e.files_uploaded, e.unique_sessions`).
		From("user_engagement e").
		Where(access.Scope(p, engagementScope)).
		OrderBy("e.date DESC", "e.user_id")
	return selectAll(ctx, scope.Conn, page.apply(b), scanEngagementRow)
}

func (r *activityRepository) EngagementTotals(ctx context.Context, p models.Principal, since time.Time) (models.EngagementTotals, error) {
	var totals models.EngagementTotals
	scope, err := requestScope(ctx)
	if err != nil {
		return totals, err
	}

	sql, args, err := psql.Select(
		"COALESCE(sum(e.page_views), 0)",
		"COALESCE(sum(e.conversations_count), 0)",
		"COALESCE(sum(e.messages_sent), 0)",
		"COALESCE(avg(e.session_duration), 0)::float8",
	).From("user_engagement e").
		Where(access.Scope(p, engagementScope)).
		Where(sq.GtOrEq{"e.date": since}).
		ToSql()
	if err != nil {
		return totals, fmt.Errorf("failed to build query: %w", err)
	}

	err = scope.Conn.QueryRow(ctx, sql, args...).
		Scan(&totals.PageViews, &totals.Conversations, &totals.Messages, &totals.AvgSessionDuration)
	if err != nil {
		return totals, fmt.Errorf("failed to sum engagement: %w", err)
	}
	return totals, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanActivityRow(row pgx.Row) (*models.UserActivity, error) {
	var a models.UserActivity
	err := row.Scan(&a.ID, &a.UserID, &a.GroupID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Description,
		&a.IPAddress, &a.UserAgent, &a.SessionID, &a.Metadata, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}
	return &a, nil
}

func scanEngagementRow(row pgx.Row) (*models.UserEngagement, error) {
	var e models.UserEngagement
	err := row.Scan(&e.UserID, &e.GroupID, &e.Date, &e.SessionDuration, &e.PageViews, &e.ConversationsCount,
		&e.MessagesSent, &e.OrdersCreated, &e.FilesUploaded, &e.UniqueSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to scan engagement: %w", err)
	}
	return &e, nil
}
