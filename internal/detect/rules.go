package detect

import (
	"regexp"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

// Rule is a single compiled detection pattern. Validate, when set, must
// accept the matched text for a candidate to be emitted at all; failed
// candidates are discarded, not down-weighted.
type Rule struct {
	Name     string
	Type     entity.Type
	Pattern  *regexp.Regexp
	Validate func(string) bool
}

// DefaultRules returns the detection rules for French legal documents, in
// declaration order. Order matters: it is the final tie-break when two
// rules match spans of equal length at the same offset.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "phone_national",
			Type:    entity.TypePhone,
			Pattern: regexp.MustCompile(`\b0[1-9](?:[ .\-]?\d{2}){4}\b`),
		},
		{
			Name:    "phone_international",
			Type:    entity.TypePhone,
			Pattern: regexp.MustCompile(`\+33[ .\-]?[1-9](?:[ .\-]?\d{2}){4}\b`),
		},
		{
			Name:    "email",
			Type:    entity.TypeEmail,
			Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:     "siret",
			Type:     entity.TypeSiret,
			Pattern:  regexp.MustCompile(`\b\d{14}\b`),
			Validate: LuhnValid,
		},
		{
			Name:    "ssn",
			Type:    entity.TypeSSN,
			Pattern: regexp.MustCompile(`\b[12]\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{3}\s?\d{3}\s?\d{2}\b`),
		},
		{
			Name:    "address_street",
			Type:    entity.TypeAddress,
			Pattern: regexp.MustCompile(`(?i)\b\d+(?:\s+(?:bis|ter))?\s+(?:rue|avenue|boulevard|place|impasse|allée|chemin|route)\s+[\p{L}][\p{L}' \-]*`),
		},
		{
			Name:    "address_postal",
			Type:    entity.TypeAddress,
			Pattern: regexp.MustCompile(`\b\d{5}\s+\p{Lu}[\p{L}' \-]+`),
		},
		{
			Name:    "legal_rg",
			Type:    entity.TypeLegal,
			Pattern: regexp.MustCompile(`(?i)\bRG[ \-]?\d+[ \-/]\d+\b`),
		},
		{
			Name:    "legal_dossier",
			Type:    entity.TypeLegal,
			Pattern: regexp.MustCompile(`(?i)\bdossier\s+(?:n°?|numéro)\s*\d+[ \-/]\d+\b`),
		},
		{
			Name:    "legal_article",
			Type:    entity.TypeLegal,
			Pattern: regexp.MustCompile(`(?i)\barticle\s+\d+(?:[ \-]\d+)?\b`),
		},
	}
}

// LuhnValid checks the 14-digit SIRET checksum. A SIRET is valid when the
// Luhn sum over all digits, doubling every second digit from the right,
// is a multiple of ten.
func LuhnValid(number string) bool {
	if len(number) != 14 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
