//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trainsync/internal/certificate/store"
	"trainsync/internal/platform/config"
	"trainsync/internal/platform/postgres"
	"trainsync/pkg/testutil/containers"
)

func TestPostgresIssuanceStore(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()

	pool, err := postgres.New(ctx, config.PostgresConfig{URL: pc.URL})
	require.NoError(t, err)
	defer pool.Close()

	_, err = pc.Pool.Exec(ctx,
		`INSERT INTO users (user_id, email, phone_number) VALUES ($1, $2, $3)`,
		"u-1", "Ana.Silva@Example.com", "(555) 123-4567")
	require.NoError(t, err)

	st := store.NewPostgresStore(pool)

	t.Run("resolves by email case-insensitively", func(t *testing.T) {
		id, err := st.ResolveUser(ctx, "ana.silva@example.com", "")
		require.NoError(t, err)
		require.Equal(t, "u-1", id)
	})

	t.Run("resolves by phone ignoring formatting", func(t *testing.T) {
		id, err := st.ResolveUser(ctx, "", "555-123-4567")
		require.NoError(t, err)
		require.Equal(t, "u-1", id)
	})

	t.Run("unknown contact info is ErrUserNotFound", func(t *testing.T) {
		_, err := st.ResolveUser(ctx, "nobody@example.com", "000")
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})

	t.Run("saves issuance rows", func(t *testing.T) {
		expires := time.Date(2029, 1, 2, 0, 0, 0, 0, time.UTC)
		err := st.SaveIssuance(ctx, store.Issuance{
			UserID:            "u-1",
			CertificateNumber: "CERT123",
			CertificateName:   "Site Safety 10",
			CompletionDate:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			ExpirationDate:    &expires,
		})
		require.NoError(t, err)

		var count int
		err = pc.Pool.QueryRow(ctx,
			`SELECT count(*) FROM user_certificates WHERE user_id = $1 AND certificate_number = $2`,
			"u-1", "CERT123").Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})
}
