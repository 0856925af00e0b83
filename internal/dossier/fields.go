// Package dossier decodes and encodes biometric identity dossiers.
//
// A dossier is a sequence of tagged text records. Only the demographic
// fields the pipeline stores are interpreted; face images are carried as
// opaque base64 payloads so that re-encoding stays lossless for them.
package dossier

import (
	"time"

	"github.com/mitrarr/mitra-go/internal/errors"
)

// Validation failures returned by Decode and Fields.Validate.
var (
	ErrEmpty         = errors.NewStd("dossier is empty")
	ErrMissingName   = errors.NewStd("dossier has no subject name")
	ErrMissingSource = errors.NewStd("dossier has no source database")
)

// Fields is the typed view of a dossier. Every string is normalized at
// decode; an empty string means the field is absent.
type Fields struct {
	SourceDatabase string
	Name           string
	SocialName     string
	BirthDate      time.Time // zero when absent
	Sex            string    // M, F or O
	MotherName     string
	FatherName     string
	Birthplace     string
	Nationality    string
	Document       string
	NationalID     string // 11 digits, zero padded
	ForeignID      string
	Passport       string
	WarrantNumber  string
	Images         []string // base64 face images
}

// HasBirthDate reports whether the birth date is present.
func (f *Fields) HasBirthDate() bool {
	return !f.BirthDate.IsZero()
}

// Validate checks the fields every stored record needs.
func (f *Fields) Validate() error {
	switch {
	case f.Name == "":
		return validationError(ErrMissingName)
	case f.SourceDatabase == "":
		return validationError(ErrMissingSource)
	}
	return nil
}

func validationError(err error) error {
	return errors.New(err).
		Component("dossier").
		Category(errors.CategoryValidation).
		Build()
}
