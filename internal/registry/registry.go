// Package registry abstracts the external training registry. The real system
// of record has no API, only an HTML UI, so the concrete session drives a
// browser; everything above it depends only on this capability set and tests
// substitute a scripted fake.
package registry

import (
	"context"
	"errors"

	"trainsync/internal/sync/models"
)

// ErrNoResults reports that a lookup surfaced zero candidate profiles. It is
// an expected outcome, not a transport failure.
var ErrNoResults = errors.New("registry: no results")

// ProfileFields are the three comparable values scraped from a candidate's
// profile page, raw as displayed.
type ProfileFields struct {
	Phone     string
	Email     string
	BirthDate string
}

// CreateResult is the post-submit state of the student creation form.
type CreateResult struct {
	// ValidationError carries the inline form error, if any. Empty means the
	// student was created.
	ValidationError string
}

// Session is one authenticated automation session against the registry UI.
// Sessions are stateful (a logical page with navigation history) and must
// never be shared across concurrent operations.
type Session interface {
	// Login authenticates the provider account and verifies the on-page
	// success indicator. Safe to call when already authenticated.
	Login(ctx context.Context) error

	// LookupByCard resolves a registry card ID to a single profile URL.
	LookupByCard(ctx context.Context, cardID string) (string, error)

	// LookupByAgency resolves a safety-agency ID to a single profile URL.
	LookupByAgency(ctx context.Context, agencyID string) (string, error)

	// LookupByName runs the generic student name search. Returns up to ten
	// candidate profile URLs in UI order plus the total result count.
	LookupByName(ctx context.Context, first, last string) ([]string, int, error)

	// DashboardSearch runs the provider-dashboard search used for records
	// flagged as known students.
	DashboardSearch(ctx context.Context, first, last string) ([]string, int, error)

	// ReadProfileFields scrapes phone, email, and birth date from a
	// candidate profile page.
	ReadProfileFields(ctx context.Context, profileURL string) (ProfileFields, error)

	// SubmitCreateStudent fills and submits the student creation form.
	SubmitCreateStudent(ctx context.Context, rec models.Record, headshotPath string) (CreateResult, error)

	// AddToProviderIfOffered clicks the one-time "add to course provider"
	// action when the profile page offers it.
	AddToProviderIfOffered(ctx context.Context, profileURL string) error

	// SubmitAddCertificate attaches a certificate (with its rendered image
	// file) to an existing profile. courseFound is false when the registry
	// does not know the course name.
	SubmitAddCertificate(ctx context.Context, rec models.Record, profileURL, imagePath string) (courseFound bool, err error)

	// Close tears the session down. Always safe to call.
	Close(ctx context.Context) error
}

// Dialer opens fresh sessions. The worker reopens the session wholesale when
// retrying an item after a transient automation failure.
type Dialer interface {
	NewSession(ctx context.Context) (Session, error)
}
