package detect

import (
	"github.com/fbellamy/anonymiseur/internal/entity"
)

// Candidate is a raw detector hit before reconciliation. Candidates from
// all detectors are merged by the reconciler into a non-overlapping
// entity set.
type Candidate struct {
	Text       string
	Type       entity.Type
	Source     entity.Source
	Confidence float64
	Span       entity.Position

	// Rule names the pattern that produced a REGEX candidate; empty for
	// statistical detectors.
	Rule string

	// Order is the declaration index of the producing rule, used as the
	// final tie-break during reconciliation.
	Order int
}

// Capabilities reports which optional detectors can currently run.
type Capabilities struct {
	NERAvailable    bool `json:"spacy_available"`
	OllamaAvailable bool `json:"ollama_available"`
}
