// Package models holds the wire and in-process types for registry sync
// batches. JSON tags follow the upload pipeline's snake_case payloads.
package models

import "fmt"

// UploadType distinguishes the two batch flavors.
type UploadType string

const (
	UploadStudent     UploadType = "student"
	UploadCertificate UploadType = "certificate"
)

// UploadInfo is shared metadata stamped onto every record of a batch by the
// submitter. Position is 1-based; Position == 1 opens the registry session and
// Position == Max closes it, so in-order consumption is load-bearing.
type UploadInfo struct {
	Uploader   string     `json:"uploader"`
	Position   int        `json:"position"`
	Max        int        `json:"max"`
	FileName   string     `json:"file_name"`
	UploadType UploadType `json:"upload_type"`
}

// Record is one import row. Which fields are required depends on the upload
// type; validation lives with the worker's job variants.
type Record struct {
	FirstName   string `json:"first_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	LastName    string `json:"last_name"`
	Suffix      string `json:"suffix,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`

	// Student creation fields.
	Height      string `json:"height,omitempty"`
	Gender      string `json:"gender,omitempty"`
	EyeColor    string `json:"eye_color,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
	StreetName  string `json:"street_name,omitempty"`
	AptSuite    string `json:"apt_suite,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	ZipCode     string `json:"zipcode,omitempty"`
	HeadShot    string `json:"head_shot,omitempty"`

	// External identifiers enabling precise registry lookup.
	CardID         string `json:"sstid,omitempty"`
	SafetyAgencyID string `json:"osha_id,omitempty"`
	KnownStudent   bool   `json:"our_student,omitempty"`

	// Certificate upload fields.
	CourseName    string `json:"course_name,omitempty"`
	Instructor    string `json:"instructor,omitempty"`
	IssueDate     string `json:"issue_date,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`

	UploadInfo UploadInfo `json:"upload_info"`
}

// FullName returns "First Last" for notification and artifact naming.
func (r Record) FullName() string {
	return fmt.Sprintf("%s %s", r.FirstName, r.LastName)
}

// BatchMessage is one pub/sub payload: an ordered list of records sharing one
// upload. Immutable after publication.
type BatchMessage []Record

// Outcome is a record's terminal state within a batch.
type Outcome struct {
	Record Record
	Failed bool
	Reason string
}
