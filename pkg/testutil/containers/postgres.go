//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer is a running Postgres instance seeded with the LMS tables
// the issuance store writes to.
type PostgresContainer struct {
	Container tc.Container
	URL       string
	Pool      *pgxpool.Pool
}

const lmsSchema = `
	CREATE TABLE users (
		user_id      TEXT PRIMARY KEY,
		email        TEXT,
		phone_number TEXT
	);
	CREATE TABLE user_certificates (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL REFERENCES users (user_id),
		certificate_id     TEXT,
		course_id          TEXT,
		completion_date    TIMESTAMPTZ NOT NULL,
		expiration_date    TIMESTAMPTZ,
		instructor_id      TEXT,
		certificate_number TEXT NOT NULL,
		certificate_name   TEXT
	);
`

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("lms"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to create pool: %v", err)
	}
	if _, err := pool.Exec(ctx, lmsSchema); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(context.Background())
	})

	return &PostgresContainer{Container: container, URL: url, Pool: pool}
}
