// Package rewrite produces the anonymized document from a frozen entity
// snapshot. The rewrite is a single left-to-right pass with exact position
// accounting; it never does substring search-and-replace, which corrupts
// offsets for repeated or colliding text.
package rewrite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

// Change records one applied substitution for statistics and audit. No
// reversible mapping back to the original value is kept.
type Change struct {
	Span        entity.Position `json:"span"`
	Replacement string          `json:"replacement"`
	Type        entity.Type     `json:"type"`
}

// Result is the outcome of a rewrite pass.
type Result struct {
	Text    string   `json:"text"`
	Changes []Change `json:"changes"`
}

// occurrence is one (span, replacement) pair; entities with several
// positions contribute one occurrence per position.
type occurrence struct {
	span        entity.Position
	replacement string
	typ         entity.Type
}

// Rewrite substitutes the replacement of every selected entity at each of
// its positions. Any two selected spans overlapping is ErrOverlap; the
// reconciler and store are supposed to make that impossible. With nothing
// selected the output equals the original.
func Rewrite(original string, entities []entity.Entity) (Result, error) {
	var occurrences []occurrence
	for _, e := range entities {
		if !e.Selected {
			continue
		}
		if e.Replacement == "" {
			return Result{}, fmt.Errorf("entity %s has empty replacement: %w", e.ID, entity.ErrInvalidArgument)
		}
		for _, p := range e.Positions {
			if !p.Valid(len(original)) {
				return Result{}, fmt.Errorf("entity %s span [%d,%d) out of range: %w",
					e.ID, p.Start, p.End, entity.ErrInvalidArgument)
			}
			occurrences = append(occurrences, occurrence{span: p, replacement: e.Replacement, typ: e.Type})
		}
	}

	sort.Slice(occurrences, func(i, j int) bool {
		return occurrences[i].span.Start < occurrences[j].span.Start
	})

	for i := 1; i < len(occurrences); i++ {
		prev, cur := occurrences[i-1].span, occurrences[i].span
		if cur.Start < prev.End {
			return Result{}, fmt.Errorf("spans [%d,%d) and [%d,%d): %w",
				prev.Start, prev.End, cur.Start, cur.End, entity.ErrOverlap)
		}
	}

	var out strings.Builder
	out.Grow(len(original))
	changes := make([]Change, 0, len(occurrences))

	cursor := 0
	for _, occ := range occurrences {
		out.WriteString(original[cursor:occ.span.Start])
		out.WriteString(occ.replacement)
		changes = append(changes, Change{Span: occ.span, Replacement: occ.replacement, Type: occ.typ})
		cursor = occ.span.End
	}
	out.WriteString(original[cursor:])

	return Result{Text: out.String(), Changes: changes}, nil
}
