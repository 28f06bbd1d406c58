package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RequestScope is the single pooled connection a request works on.
// The connection carries app.current_user_id for the life of the request.
type RequestScope struct {
	Conn *pgxpool.Conn
}

// Close resets the session user and releases the connection to the pool.
// This MUST be called so the user id does not leak to the next request.
func (s *RequestScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_user_id")
	s.Conn.Release()
}

// InTx runs fn inside a transaction on the scope's connection.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *RequestScope) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithUser acquires a connection tagged with the acting user.
// The returned RequestScope MUST be closed with defer scope.Close().
func (db *DB) WithUser(ctx context.Context, userID int64) (*RequestScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", strconv.FormatInt(userID, 10))
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &RequestScope{Conn: conn}, nil
}

// WithoutUser acquires a connection for unauthenticated work such as login and registration.
// The returned RequestScope MUST be closed with defer scope.Close().
func (db *DB) WithoutUser(ctx context.Context) (*RequestScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &RequestScope{Conn: conn}, nil
}
