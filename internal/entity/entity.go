package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// Type classifies the kind of personal data an entity covers.
type Type string

// Supported PII categories.
const (
	TypePerson       Type = "person"
	TypeOrganization Type = "organization"
	TypePhone        Type = "phone"
	TypeEmail        Type = "email"
	TypeAddress      Type = "address"
	TypeLegal        Type = "legal"
	TypeSiret        Type = "siret"
	TypeSSN          Type = "ssn"
)

// Source identifies which detector produced an entity.
type Source string

// Detector sources in priority order (highest first).
const (
	SourceManual Source = "MANUAL"
	SourceRegex  Source = "REGEX"
	SourceNER    Source = "NER"
	SourceOllama Source = "OLLAMA"
)

// Priority returns the conflict-resolution rank of a source.
// MANUAL beats REGEX beats NER beats OLLAMA.
func (s Source) Priority() int {
	switch s {
	case SourceManual:
		return 3
	case SourceRegex:
		return 2
	case SourceNER:
		return 1
	case SourceOllama:
		return 0
	default:
		return -1
	}
}

// Position is a half-open [Start, End) character span in the original document.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the span is well-formed and lies within a document
// of the given length.
func (p Position) Valid(docLen int) bool {
	return p.Start >= 0 && p.Start < p.End && p.End <= docLen
}

// Overlaps reports whether two spans share at least one character.
func (p Position) Overlaps(other Position) bool {
	return p.Start < other.End && other.Start < p.End
}

// Len returns the number of characters the span covers.
func (p Position) Len() int {
	return p.End - p.Start
}

// Entity is a single logical piece of PII found in a document. Multiple
// positions represent repeated occurrences that share one replacement.
type Entity struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Type        Type       `json:"type"`
	Source      Source     `json:"source"`
	Confidence  float64    `json:"confidence"`
	Positions   []Position `json:"positions"`
	Replacement string     `json:"replacement"`
	Selected    bool       `json:"selected"`
}

// Validate checks the entity's internal invariants against a document of
// the given length: at least one position, every span well-formed, and
// spans pairwise non-overlapping.
func (e *Entity) Validate(docLen int) error {
	if len(e.Positions) == 0 {
		return fmt.Errorf("entity %s: %w: no positions", e.ID, ErrInvalidArgument)
	}
	for i, p := range e.Positions {
		if !p.Valid(docLen) {
			return fmt.Errorf("entity %s: %w: position [%d,%d) out of range", e.ID, ErrInvalidArgument, p.Start, p.End)
		}
		for _, q := range e.Positions[i+1:] {
			if p.Overlaps(q) {
				return fmt.Errorf("entity %s: %w: positions [%d,%d) and [%d,%d)", e.ID, ErrOverlap, p.Start, p.End, q.Start, q.End)
			}
		}
	}
	return nil
}

// DefaultReplacement returns the substitution string used for a PII type
// when no operator-chosen replacement exists. Person and organization
// entities get lettered sequence names assigned during reconciliation and
// never use this default.
func DefaultReplacement(t Type) string {
	switch t {
	case TypePhone:
		return "06 XX XX XX XX"
	case TypeEmail:
		return "email.anonymise@exemple.fr"
	case TypeSiret:
		return "[SIRET Anonymisé]"
	case TypeSSN:
		return "[N° Sécurité Sociale Anonymisé]"
	case TypeAddress:
		return "[Adresse Anonymisée]"
	case TypeLegal:
		return "[Référence Anonymisée]"
	case TypePerson:
		return "[Personne Anonymisée]"
	case TypeOrganization:
		return "[Organisation Anonymisée]"
	default:
		return "[Anonymisé]"
	}
}

// KnownType reports whether t is one of the supported PII categories.
func KnownType(t Type) bool {
	switch t {
	case TypePerson, TypeOrganization, TypePhone, TypeEmail, TypeAddress, TypeLegal, TypeSiret, TypeSSN:
		return true
	}
	return false
}

// idNamespace salts deterministic entity IDs so they cannot collide with
// IDs from other UUID producers.
var idNamespace = uuid.MustParse("7a1c2f9e-4b6d-4c3a-9f0e-5d8b1a6c2e47")

// DeterministicID derives a stable entity ID from the entity's type, first
// span and covered text. The same document and detector configuration
// always yield the same IDs.
func DeterministicID(t Type, pos Position, text string) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s|%d|%d|%s", t, pos.Start, pos.End, text))).String()
}

// NewManualID returns a fresh random ID for operator-created entities.
func NewManualID() string {
	return uuid.New().String()
}
