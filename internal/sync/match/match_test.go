package match

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"trainsync/internal/sync/models"
)

func record() models.Record {
	return models.Record{
		FirstName:   "Jordan",
		LastName:    "Reyes",
		PhoneNumber: "(555) 123-4567",
		Email:       "Jordan.Reyes@Example.com",
		DateOfBirth: "1990-04-17 00:00:00",
	}
}

func TestAgreements(t *testing.T) {
	rec := record()

	t.Run("all three fields agree despite formatting", func(t *testing.T) {
		c := Candidate{
			Phone:     "555-123-4567",
			Email:     "jordan.reyes@example.com",
			BirthDate: "04/17/1990",
		}
		assert.Equal(t, 3, Agreements(rec, c))
	})

	t.Run("missing field on either side never agrees", func(t *testing.T) {
		c := Candidate{Phone: "5551234567"}
		assert.Equal(t, 1, Agreements(rec, c))

		noPhone := rec
		noPhone.PhoneNumber = ""
		assert.Equal(t, 0, Agreements(noPhone, c))
	})

	t.Run("unparseable birth date does not agree", func(t *testing.T) {
		c := Candidate{BirthDate: "April 17th"}
		assert.Equal(t, 0, Agreements(rec, c))
	})
}

func TestAccept(t *testing.T) {
	rec := record()

	t.Run("two of three always matches", func(t *testing.T) {
		c := Candidate{Phone: "5551234567", Email: "jordan.reyes@example.com"}
		assert.True(t, Accept(rec, c, false))
		assert.True(t, Accept(rec, c, true))
	})

	t.Run("one of three matches only for the sole candidate", func(t *testing.T) {
		c := Candidate{Email: "jordan.reyes@example.com", Phone: "5559990000"}
		assert.True(t, Accept(rec, c, true))
		assert.False(t, Accept(rec, c, false))
	})

	t.Run("zero agreements never matches", func(t *testing.T) {
		c := Candidate{Phone: "5550000000", Email: "other@example.com", BirthDate: "01/01/1970"}
		assert.False(t, Accept(rec, c, true))
		assert.False(t, Accept(rec, c, false))
	})
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(555) 123-4567": "5551234567",
		"555 123 4567":   "5551234567",
		"05551234567":    "5551234567",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), fmt.Sprintf("input %q", in))
	}
}
