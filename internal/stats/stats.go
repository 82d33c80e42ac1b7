// Package stats derives operator-facing counts from an entity set.
package stats

import "github.com/fbellamy/anonymiseur/internal/entity"

// Report summarizes an entity set for the operator view.
type Report struct {
	TotalEntities    int                   `json:"total_entities"`
	TotalOccurrences int                   `json:"total_occurrences"`
	SelectedEntities int                   `json:"selected_entities"`
	ByType           map[entity.Type]int   `json:"by_type"`
	BySource         map[entity.Source]int `json:"by_source"`
}

// Compute builds a report over the given entities. Occurrences count one
// per position, not one per entity.
func Compute(entities []entity.Entity) Report {
	report := Report{
		ByType:   make(map[entity.Type]int),
		BySource: make(map[entity.Source]int),
	}

	for _, e := range entities {
		report.TotalEntities++
		report.TotalOccurrences += len(e.Positions)
		if e.Selected {
			report.SelectedEntities++
		}
		report.ByType[e.Type]++
		report.BySource[e.Source]++
	}

	return report
}
