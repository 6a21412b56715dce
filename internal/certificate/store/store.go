// Package store persists certificate issuances and resolves the users they
// belong to.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound reports that no LMS user matches the given contact info.
var ErrUserNotFound = errors.New("store: user not found")

// Issuance is one persisted certificate row linking a certificate number to a
// user, course, and instructor.
type Issuance struct {
	UserID            string
	CertificateID     string
	CourseID          string
	InstructorID      string
	CertificateNumber string
	CertificateName   string
	CompletionDate    time.Time
	ExpirationDate    *time.Time
}

// IssuanceStore saves issuance rows and resolves users by contact info.
type IssuanceStore interface {
	// ResolveUser returns the user ID matching the email (preferred) or
	// phone number. ErrUserNotFound when neither matches.
	ResolveUser(ctx context.Context, email, phone string) (string, error)

	// SaveIssuance inserts one issuance row.
	SaveIssuance(ctx context.Context, row Issuance) error
}
