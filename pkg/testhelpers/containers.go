package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/migrations"
	"github.com/omnifin/backoffice/pkg/database"
)

// PostgresImage is the PostgreSQL image integration tests run against.
const PostgresImage = "postgres:16-alpine"

// TestDB holds the shared database container with migrations applied.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared, migrated PostgreSQL database for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "omnifin_test",
			"POSTGRES_USER":     "omnifin",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://omnifin:test_password@%s:%s/omnifin_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 10})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if err := db.MigratePool(migrations.FS, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// SystemContext returns a context carrying an untagged request scope.
func (tdb *TestDB) SystemContext(t *testing.T) (context.Context, func()) {
	t.Helper()
	ctx := context.Background()
	scope, err := tdb.DB.WithoutUser(ctx)
	if err != nil {
		t.Fatalf("failed to acquire scope: %v", err)
	}
	return database.SetRequestScope(ctx, scope), scope.Close
}

// Exec runs a statement on a fresh connection, failing the test on error.
func (tdb *TestDB) Exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	if _, err := tdb.DB.Pool.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

// Truncate empties the given tables and restarts their id sequences.
func (tdb *TestDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		tdb.Exec(t, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", table))
	}
}

// InsertUser creates a user row and returns its id.
func (tdb *TestDB) InsertUser(t *testing.T, email, role string, groupID *int64) int64 {
	t.Helper()
	var id int64
	err := tdb.DB.Pool.QueryRow(context.Background(), `
		INSERT INTO users (email, password, role, group_id)
		VALUES ($1, 'x', $2, $3)
		RETURNING id`, email, role, groupID).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}
	return id
}

// InsertGroup creates a group row and returns its id.
func (tdb *TestDB) InsertGroup(t *testing.T, name string) int64 {
	t.Helper()
	var id int64
	err := tdb.DB.Pool.QueryRow(context.Background(),
		`INSERT INTO groups (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert group: %v", err)
	}
	return id
}
