package resolve

import (
	"time"

	"github.com/mitrarr/mitra-go/internal/datastore/entities"
)

// Rule decides whether an alert and a record describe the same person.
type Rule struct {
	Name  string
	Match func(rec *entities.BiometricRecord, alert *entities.WatchlistAlert) bool
}

// Rule names stored on AlertMatch.
const (
	RuleNationalID      = "national-id"
	RuleNameBirthMother = "name-birth-mother"
	RuleNameBirthFather = "name-birth-father"
)

// DefaultRules returns the identity rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: RuleNationalID,
			Match: func(r *entities.BiometricRecord, a *entities.WatchlistAlert) bool {
				return equal(r.NationalID, a.NationalID)
			},
		},
		{
			Name: RuleNameBirthMother,
			Match: func(r *entities.BiometricRecord, a *entities.WatchlistAlert) bool {
				return nameAndBirth(r, a) && equal(r.MotherName, a.MotherName)
			},
		},
		{
			// The record's father may appear as the alert's mother; upstream
			// data swaps the parent columns often enough that both count.
			Name: RuleNameBirthFather,
			Match: func(r *entities.BiometricRecord, a *entities.WatchlistAlert) bool {
				return nameAndBirth(r, a) &&
					(equal(r.FatherName, a.FatherName) || equal(r.FatherName, a.MotherName))
			},
		},
	}
}

// First returns the name of the first rule that matches.
func First(rules []Rule, rec *entities.BiometricRecord, alert *entities.WatchlistAlert) (string, bool) {
	for _, rule := range rules {
		if rule.Match(rec, alert) {
			return rule.Name, true
		}
	}
	return "", false
}

func equal(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

func nameAndBirth(r *entities.BiometricRecord, a *entities.WatchlistAlert) bool {
	return r.Name != "" && r.Name == a.Name && sameDay(r.BirthDate, a.BirthDate)
}

// sameDay compares calendar dates; drivers differ in the location they
// attach to DATE columns.
func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
