// Package reconcile merges candidate lists from independent detectors
// into one consistent, non-overlapping entity set.
package reconcile

import (
	"sort"
	"strings"

	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"go.uber.org/zap"
)

// Reconciler merges detector outputs. It is stateless and synchronous;
// all policy (priority order, tie-breaks, default replacements) lives
// here rather than in callers.
type Reconciler struct {
	logger *logger.Logger
}

// New creates a reconciler.
func New(log *logger.Logger) *Reconciler {
	return &Reconciler{logger: log}
}

// candidate wraps a detector candidate with its flattening order, the
// final tie-break when priority, confidence, span length and rule
// declaration order are all equal.
type candidate struct {
	detect.Candidate
	seq int
}

// Reconcile flattens all candidate lists, collapses duplicates, resolves
// overlaps by source priority, and returns selected entities with default
// replacements and deterministic ids. Output spans never overlap.
func (r *Reconciler) Reconcile(candidateLists ...[]detect.Candidate) []entity.Entity {
	var flat []candidate
	for _, list := range candidateLists {
		for _, c := range list {
			flat = append(flat, candidate{Candidate: c, seq: len(flat)})
		}
	}
	if len(flat) == 0 {
		return []entity.Entity{}
	}

	flat = collapseDuplicates(flat)
	accepted := sweep(flat)
	entities := r.materialize(accepted)

	r.logger.Debug("Candidates reconciled",
		zap.Int("candidates", len(flat)),
		zap.Int("entities", len(entities)),
	)
	return entities
}

// collapseDuplicates merges candidates with identical (type, normalized
// text, span) from different detectors into one, keeping the
// higher-priority source.
func collapseDuplicates(candidates []candidate) []candidate {
	type dupKey struct {
		typ   entity.Type
		text  string
		start int
		end   int
	}

	byKey := make(map[dupKey]int)
	var unique []candidate
	for _, c := range candidates {
		key := dupKey{c.Type, normalize(c.Text), c.Span.Start, c.Span.End}
		if i, seen := byKey[key]; seen {
			if beats(c, unique[i]) {
				keep := c
				keep.seq = unique[i].seq
				unique[i] = keep
			}
			continue
		}
		byKey[key] = len(unique)
		unique = append(unique, c)
	}
	return unique
}

// sweep sorts by (start asc, length desc) and walks left to right,
// resolving every overlap in favor of the winning candidate. The loser is
// dropped entirely, never merged, so the result is strictly
// non-overlapping.
func sweep(candidates []candidate) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.Span.Len() > b.Span.Len()
	})

	var accepted []candidate
	for _, c := range candidates {
		survived := true
		for len(accepted) > 0 && accepted[len(accepted)-1].Span.Overlaps(c.Span) {
			if beats(c, accepted[len(accepted)-1]) {
				accepted = accepted[:len(accepted)-1]
				continue
			}
			survived = false
			break
		}
		if survived {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

// beats decides an overlap or duplicate conflict between two candidates:
// source priority, then confidence, then span length, then detector
// declaration order.
func beats(a, b candidate) bool {
	if ap, bp := a.Source.Priority(), b.Source.Priority(); ap != bp {
		return ap > bp
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Span.Len() != b.Span.Len() {
		return a.Span.Len() > b.Span.Len()
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.seq < b.seq
}

// materialize groups surviving occurrences of the same logical entity
// (same type, same exact text, same source) into one entity with
// multiple positions, assigns default replacements and deterministic ids,
// and marks everything selected. Grouping is by verbatim text so that
// every position's document slice equals the entity text; spellings that
// differ only in case stay separate entities.
func (r *Reconciler) materialize(accepted []candidate) []entity.Entity {
	type entKey struct {
		typ    entity.Type
		text   string
		source entity.Source
	}

	byKey := make(map[entKey]int)
	var entities []entity.Entity
	for _, c := range accepted {
		key := entKey{c.Type, c.Text, c.Source}
		if i, seen := byKey[key]; seen {
			entities[i].Positions = append(entities[i].Positions, c.Span)
			continue
		}
		byKey[key] = len(entities)
		entities = append(entities, entity.Entity{
			Text:        c.Text,
			Type:        c.Type,
			Source:      c.Source,
			Confidence:  c.Confidence,
			Positions:   []entity.Position{c.Span},
			Replacement: entity.DefaultReplacement(c.Type),
			Selected:    true,
		})
	}

	// Final ordering by first occurrence; positions within an entity are
	// already ascending because the sweep emits left to right.
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Positions[0].Start < entities[j].Positions[0].Start
	})

	// Lettered sequence names for persons and organizations, assigned in
	// document order. Ids are assigned last so they are deterministic for
	// a given input and detector configuration.
	personSeq, orgSeq := 0, 0
	for i := range entities {
		switch entities[i].Type {
		case entity.TypePerson:
			entities[i].Replacement = "Personne " + letterName(personSeq)
			personSeq++
		case entity.TypeOrganization:
			entities[i].Replacement = "Organisation " + letterName(orgSeq)
			orgSeq++
		}
		entities[i].ID = entity.DeterministicID(entities[i].Type, entities[i].Positions[0], entities[i].Text)
	}

	return entities
}

// letterName maps 0,1,…,25,26,… to A,B,…,Z,AA,… like spreadsheet columns.
func letterName(n int) string {
	name := ""
	for {
		name = string(rune('A'+n%26)) + name
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return name
}

// normalize canonicalizes entity text for duplicate detection.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
