// Package certificate renders certificate artifacts and records their
// issuance against LMS users.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trainsync/internal/certificate/store"
	"trainsync/internal/sync/models"
	"trainsync/pkg/dates"
	"trainsync/pkg/randcode"
)

const certificateNumberLength = 15

// ImageRenderer is what the service needs from the template renderer.
type ImageRenderer interface {
	Render(ctx context.Context, f Fields) ([]byte, error)
}

// Rendered is an issued certificate artifact. Warning is set when the image
// was produced but the issuance could not be linked to an LMS user; the image
// is still usable.
type Rendered struct {
	Image   []byte
	Number  string
	Warning string
}

// Service orchestrates rendering and issuance persistence.
type Service struct {
	renderer ImageRenderer
	store    store.IssuanceStore
	log      *slog.Logger
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(renderer ImageRenderer, issuances store.IssuanceStore, opts ...Option) (*Service, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if issuances == nil {
		return nil, errors.New("issuance store is required")
	}
	svc := &Service{renderer: renderer, store: issuances, log: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IssueImported renders and records a certificate for one imported row. The
// row carries only contact info, so the user link is best-effort: an
// unresolvable user downgrades to a warning rather than an error.
func (s *Service) IssueImported(ctx context.Context, rec models.Record) (Rendered, error) {
	number := rec.CertificateID
	if number == "" {
		number = randcode.New(certificateNumberLength)
	}

	issued, err := dates.Parse(rec.IssueDate)
	if err != nil {
		return Rendered{}, fmt.Errorf("parse issue date: %w", err)
	}
	expires, err := dates.Parse(rec.ExpiryDate)
	if err != nil {
		return Rendered{}, fmt.Errorf("parse expiry date: %w", err)
	}

	img, err := s.renderer.Render(ctx, Fields{
		StudentFullName:    rec.FullName(),
		InstructorFullName: rec.Instructor,
		CertificateName:    rec.CourseName,
		CertificateNumber:  number,
		CompletionDate:     issued,
	})
	if err != nil {
		return Rendered{}, err
	}

	out := Rendered{Image: img, Number: number}

	if rec.Email == "" && rec.PhoneNumber == "" {
		out.Warning = "Unable to find user in Learning Management System without an email or phone number provided."
		return out, nil
	}

	userID, err := s.store.ResolveUser(ctx, rec.Email, rec.PhoneNumber)
	if errors.Is(err, store.ErrUserNotFound) {
		out.Warning = fmt.Sprintf(
			"Unable to find user in Learning Management System with email: %s or phone number: %s for certificate relation.",
			rec.Email, rec.PhoneNumber)
		return out, nil
	}
	if err != nil {
		return Rendered{}, fmt.Errorf("resolve user: %w", err)
	}

	if err := s.store.SaveIssuance(ctx, store.Issuance{
		UserID:            userID,
		CertificateNumber: number,
		CertificateName:   rec.CourseName,
		CompletionDate:    issued,
		ExpirationDate:    &expires,
	}); err != nil {
		s.log.Error("issuance not persisted", "userID", userID, "error", err)
		out.Warning = fmt.Sprintf(
			"Unable to find user in Learning Management System with email: %s or phone number: %s for certificate relation.",
			rec.Email, rec.PhoneNumber)
	}
	return out, nil
}

// CourseIssueRequest issues a certificate for a known user completing a
// course, the path used by the ad-hoc bulk-download flow.
type CourseIssueRequest struct {
	UserID          string
	StudentName     string
	CourseID        string
	CourseName      string
	CourseCode      string
	InstructorID    string
	InstructorName  string
	CertificateID   string
	CertificateName string
	// Validity offsets; additive when both are set.
	LengthYears  int
	LengthMonths int
}

// IssueForCourse renders and persists a certificate completed now. Expiration
// is the completion date advanced by the configured years and months.
func (s *Service) IssueForCourse(ctx context.Context, req CourseIssueRequest) (Rendered, error) {
	number := randcode.New(certificateNumberLength)
	completion := time.Now().UTC()

	name := req.CourseName
	if req.CourseCode != "" {
		name = fmt.Sprintf("%s, %s", req.CourseName, req.CourseCode)
	}
	if req.CertificateName != "" {
		name = req.CertificateName
	}

	var expiration *time.Time
	if req.LengthYears > 0 || req.LengthMonths > 0 {
		e := completion.AddDate(req.LengthYears, req.LengthMonths, 0)
		expiration = &e
	}

	img, err := s.renderer.Render(ctx, Fields{
		StudentFullName:    req.StudentName,
		InstructorFullName: req.InstructorName,
		CertificateName:    name,
		CertificateNumber:  number,
		CompletionDate:     completion,
	})
	if err != nil {
		return Rendered{}, err
	}

	if err := s.store.SaveIssuance(ctx, store.Issuance{
		UserID:            req.UserID,
		CertificateID:     req.CertificateID,
		CourseID:          req.CourseID,
		InstructorID:      req.InstructorID,
		CertificateNumber: number,
		CertificateName:   name,
		CompletionDate:    completion,
		ExpirationDate:    expiration,
	}); err != nil {
		return Rendered{}, fmt.Errorf("save issuance: %w", err)
	}

	return Rendered{Image: img, Number: number}, nil
}
