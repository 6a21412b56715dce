package worker

import (
	"fmt"

	"trainsync/internal/sync/models"
	"trainsync/pkg/dates"
)

// uploadJob is the behavior that differs between the two batch flavors.
// Student uploads create registry records; certificate uploads annotate
// existing ones.
type uploadJob interface {
	Kind() models.UploadType

	// Validate returns the failure reason for the first missing required
	// field, or "" when the record is usable.
	Validate(rec models.Record) string
}

func jobFor(t models.UploadType) uploadJob {
	if t == models.UploadStudent {
		return studentJob{}
	}
	return certificateJob{}
}

type studentJob struct{}

func (studentJob) Kind() models.UploadType { return models.UploadStudent }

// Validate checks everything the creation form needs. Reasons keep the exact
// wording submitters have learned to expect in their reports.
func (studentJob) Validate(rec models.Record) string {
	checks := []struct {
		value  string
		reason string
	}{
		{rec.FirstName, "No first name provided."},
		{rec.LastName, "No last name provided."},
		{rec.PhoneNumber, "No phone number provided."},
		{rec.Height, "No height provided."},
		{rec.EyeColor, "No eye color provided."},
		{rec.Gender, "No gender provided."},
		{rec.HouseNumber, "House number not provided"},
		{rec.StreetName, "Street name not provided"},
		{rec.City, "City not provided."},
		{rec.State, "State not provided."},
		{rec.ZipCode, "Zip Code not provided."},
	}
	for _, c := range checks {
		if c.value == "" {
			return c.reason
		}
	}
	if _, err := dates.Parse(rec.DateOfBirth); err != nil {
		return fmt.Sprintf("dob: %s, incorrect format.", rec.DateOfBirth)
	}
	return ""
}

type certificateJob struct{}

func (certificateJob) Kind() models.UploadType { return models.UploadCertificate }

func (certificateJob) Validate(rec models.Record) string {
	if rec.FirstName == "" {
		return "No first name provided."
	}
	if rec.LastName == "" {
		return "No last name provided."
	}
	return ""
}
