// Package match holds the pure record-matching decision logic used to decide
// whether a registry profile represents the same person as an import row.
package match

import (
	"strings"
	"unicode"

	"trainsync/internal/sync/models"
	"trainsync/pkg/dates"
)

// MaxCandidates bounds how many lookup results are worth disambiguating.
// Beyond this the lookup is considered too ambiguous to inspect at all.
const MaxCandidates = 10

// Candidate is one registry profile surfaced by a lookup, reduced to the
// three comparable fields scraped from its page.
type Candidate struct {
	ProfileURL string
	Phone      string
	Email      string
	BirthDate  string
}

// Agreements counts how many of phone, email, and birth date agree between
// the row and the candidate after normalization. A field missing on either
// side never counts as an agreement.
func Agreements(rec models.Record, c Candidate) int {
	n := 0
	if rec.PhoneNumber != "" && c.Phone != "" &&
		NormalizePhone(c.Phone) == NormalizePhone(rec.PhoneNumber) {
		n++
	}
	if rec.Email != "" && c.Email != "" &&
		NormalizeEmail(c.Email) == NormalizeEmail(rec.Email) {
		n++
	}
	if rec.DateOfBirth != "" && c.BirthDate != "" &&
		dates.Equal(c.BirthDate, rec.DateOfBirth) {
		n++
	}
	return n
}

// Accept reports whether the candidate should be treated as the same person.
// Two agreeing fields always match. A single agreement is accepted only when
// the candidate was the sole lookup result: a unique result is cheap to
// mis-disambiguate, so the weaker bar is tolerated only there.
func Accept(rec models.Record, c Candidate, soleCandidate bool) bool {
	n := Agreements(rec, c)
	if n >= 2 {
		return true
	}
	return soleCandidate && n >= 1
}

// NormalizePhone strips everything but digits, then any leading zeros the
// registry pads with.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "0")
}

// NormalizeEmail lowercases and trims.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
