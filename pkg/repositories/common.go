package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/omnifin/backoffice/pkg/database"
)

// psql builds PostgreSQL statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both a pooled connection and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// requestScope returns the request's connection or an error when the
// repository is called outside the scope middleware.
func requestScope(ctx context.Context) (*database.RequestScope, error) {
	scope, ok := database.GetRequestScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no request scope in context")
	}
	return scope, nil
}

// Page bounds a list query. Zero Limit means no limit.
type Page struct {
	Limit  uint64
	Offset uint64
}

func (p Page) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if p.Limit > 0 {
		b = b.Limit(p.Limit)
	}
	if p.Offset > 0 {
		b = b.Offset(p.Offset)
	}
	return b
}

// selectAll runs a built SELECT and scans every row with scan.
func selectAll[T any](ctx context.Context, q querier, b sq.SelectBuilder, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	items := make([]*T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}

// selectOne runs a built SELECT expected to return one row.
// Missing rows map to apperrors.ErrNotFound.
func selectOne[T any](ctx context.Context, q querier, b sq.SelectBuilder, scan func(pgx.Row) (*T, error)) (*T, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	item, err := scan(q.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, database.MapError(err)
	}
	return item, nil
}

// countWhere runs SELECT count(*) over a built FROM/WHERE.
func countWhere(ctx context.Context, q querier, b sq.SelectBuilder) (int64, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var n int64
	if err := q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// execAffected runs a built statement and returns ErrNotFound if no row changed.
func execAffected(ctx context.Context, q querier, b sq.Sqlizer) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build statement: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return database.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows)
	}
	return nil
}

// jsonMap returns m or an empty map so JSONB columns never receive NULL.
func jsonMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// textArray returns s or an empty slice so TEXT[] columns never receive NULL.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
