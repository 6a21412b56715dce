package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trainsync/internal/platform/postgres"
)

// PostgresStore persists issuances in the LMS database.
type PostgresStore struct {
	pool *postgres.Pool
}

func NewPostgresStore(pool *postgres.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ResolveUser(ctx context.Context, email, phone string) (string, error) {
	if email != "" {
		id, err := s.userBy(ctx, "LOWER(email) = LOWER($1)", email)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return "", err
		}
	}
	if phone != "" {
		id, err := s.userBy(ctx, "regexp_replace(phone_number, '\\D', '', 'g') = regexp_replace($1, '\\D', '', 'g')", phone)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return "", err
		}
	}
	return "", ErrUserNotFound
}

func (s *PostgresStore) userBy(ctx context.Context, predicate, arg string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		"SELECT user_id FROM users WHERE "+predicate+" LIMIT 1", arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveIssuance(ctx context.Context, row Issuance) error {
	query := `
		INSERT INTO user_certificates (
			id,
			user_id,
			certificate_id,
			course_id,
			completion_date,
			expiration_date,
			instructor_id,
			certificate_number,
			certificate_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.NewString(),
		row.UserID,
		nullable(row.CertificateID),
		nullable(row.CourseID),
		row.CompletionDate,
		row.ExpirationDate,
		nullable(row.InstructorID),
		row.CertificateNumber,
		nullable(row.CertificateName),
	)
	if err != nil {
		return fmt.Errorf("save issuance for user %s: %w", row.UserID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
