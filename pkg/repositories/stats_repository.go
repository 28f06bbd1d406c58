package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/omnifin/backoffice/pkg/access"
	"github.com/omnifin/backoffice/pkg/models"
)

// StatsRepository computes the dashboard rollups over the principal's scope.
type StatsRepository interface {
	Dashboard(ctx context.Context, p models.Principal, w models.Windows) (*models.DashboardStats, error)
}

type statsRepository struct{}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository() StatsRepository {
	return &statsRepository{}
}

var _ StatsRepository = (*statsRepository)(nil)

func (r *statsRepository) Dashboard(ctx context.Context, p models.Principal, w models.Windows) (*models.DashboardStats, error) {
	scope, err := requestScope(ctx)
	if err != nil {
		return nil, err
	}
	q := scope.Conn
	stats := &models.DashboardStats{Timestamp: w.Now}

	users := psql.Select("count(*)").
		Column(sq.Expr("count(*) FILTER (WHERE last_login >= ?)", w.Today)).
		Column(sq.Expr("count(*) FILTER (WHERE date_joined >= ?)", w.Last7Days)).
		From("users").
		Where(access.Scope(p, access.Columns{Owner: "id", Group: "group_id"}))
	if err := scanBuilt(ctx, q, users, &stats.Users.Total, &stats.Users.ActiveToday, &stats.Users.New7Days); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	orders := psql.Select("count(*)").
		Column(sq.Expr("count(*) FILTER (WHERE o.created_at >= ?)", w.Today)).
		Column(sq.Expr("count(*) FILTER (WHERE o.created_at >= ?)", w.Last7Days)).
		From("orders o").
		Where(access.Scope(p, orderScope))
	if err := scanBuilt(ctx, q, orders, &stats.Orders.Total, &stats.Orders.Today, &stats.Orders.Last7Days); err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	stats.Orders.StatusDistribution, err = distribution(ctx, q, "o.status", "orders o", access.Scope(p, orderScope))
	if err != nil {
		return nil, err
	}

	conversations := psql.Select("count(*)").
		Column("count(*) FILTER (WHERE c.status = 'active')").
		Column(sq.Expr("count(*) FILTER (WHERE c.started_at >= ?)", w.Today)).
		From("conversations c").
		Where(access.Scope(p, conversationScope))
	err = scanBuilt(ctx, q, conversations,
		&stats.Conversations.Total, &stats.Conversations.Active, &stats.Conversations.Today)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	stats.Conversations.StatusDistribution, err = distribution(ctx, q, "c.status", "conversations c",
		access.Scope(p, conversationScope))
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func scanBuilt(ctx context.Context, q querier, b sq.SelectBuilder, dest ...any) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.QueryRow(ctx, sql, args...).Scan(dest...)
}

// distribution counts rows per value of col. Values with no rows are absent.
func distribution(ctx context.Context, q querier, col, from string, where sq.Sqlizer) (map[string]int64, error) {
	sql, args, err := psql.Select(col, "count(*)").From(from).Where(where).GroupBy(col).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}
