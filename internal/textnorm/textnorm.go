// Package textnorm normalizes the demographic strings that identity matching
// compares: person names, document numbers, sex codes, birth dates and
// source database names.
package textnorm

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NationalIDLength is the number of digits in a CPF.
const NationalIDLength = 11

var upper = cases.Upper(language.BrazilianPortuguese)

// ligatures that have no decomposed form
var ligatures = strings.NewReplacer(
	"Æ", "AE", "æ", "ae",
	"Œ", "OE", "œ", "oe",
	"ß", "ss",
	"Ø", "O", "ø", "o",
	"Đ", "D", "đ", "d",
	"Ł", "L", "ł", "l",
)

// Fold strips diacritics and maps the remaining letters to ASCII where a
// plain equivalent exists. Characters without one are kept.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, ligatures.Replace(s))
	if err != nil {
		return s
	}
	return out
}

// Name trims, collapses inner whitespace, folds to ASCII and uppercases.
// Blank input yields "".
func Name(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return upper.String(Fold(s))
}

// NamePtr is Name for optional fields; blank input yields nil.
func NamePtr(s string) *string {
	n := Name(s)
	if n == "" {
		return nil
	}
	return &n
}

// Document keeps only letters and digits, folded and uppercased.
func Document(s string) string {
	var b strings.Builder
	for _, r := range Fold(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return upper.String(b.String())
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AllDigits reports whether s is non-empty and made of ASCII digits only.
func AllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NationalID extracts and zero pads a CPF. It returns the 11 digit string
// and true unless the input has no digits, too many digits or a single
// repeated digit. Check digits are not enforced here; see ValidCheckDigits.
func NationalID(s string) (string, bool) {
	d := Digits(s)
	if d == "" || len(d) > NationalIDLength {
		return "", false
	}
	d = strings.Repeat("0", NationalIDLength-len(d)) + d
	if strings.Count(d, d[:1]) == NationalIDLength {
		return "", false
	}
	return d, true
}

// ValidCheckDigits reports whether an 11 digit CPF has correct check digits.
func ValidCheckDigits(id string) bool {
	if len(id) != NationalIDLength || !AllDigits(id) {
		return false
	}
	for i := 9; i < NationalIDLength; i++ {
		sum := 0
		for j := 0; j < i; j++ {
			sum += int(id[j]-'0') * (i + 1 - j)
		}
		if (sum*10)%11%10 != int(id[i]-'0') {
			return false
		}
	}
	return true
}

// Sex maps the accepted encodings to M, F or O. Unknown values yield "".
func Sex(s string) string {
	switch Name(s) {
	case "1", "M", "MASCULINO":
		return "M"
	case "2", "F", "FEMININO":
		return "F"
	case "3", "O":
		return "O"
	default:
		return ""
	}
}

// birthDateLayouts are tried in order.
var birthDateLayouts = []string{
	"2006-01-02",
	"20060102",
	"02-01-2006",
	"02012006",
	"02/01/2006",
}

// BirthDate parses a date in any accepted layout and returns UTC midnight.
func BirthDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range birthDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// federalLists are source databases published without a state prefix.
var federalLists = map[string]bool{
	"SISMIGRA": true,
	"SINPA":    true,
	"BNMP":     true,
}

// SourceName normalizes a source database name to the STATE/NAME form,
// prefixing the federal lists with PF/.
func SourceName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.Contains(s, "/") && federalLists[s] {
		return "PF/" + s
	}
	return s
}
