package stats

import (
	"testing"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

func TestCompute(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		report := Compute(nil)
		if report.TotalEntities != 0 || report.TotalOccurrences != 0 || report.SelectedEntities != 0 {
			t.Errorf("Empty input produced non-zero counts: %+v", report)
		}
		if report.ByType == nil || report.BySource == nil {
			t.Error("Maps should be allocated even for empty input")
		}
	})

	t.Run("Counts", func(t *testing.T) {
		entities := []entity.Entity{
			{
				Type:      entity.TypePerson,
				Source:    entity.SourceNER,
				Positions: []entity.Position{{Start: 0, End: 5}, {Start: 20, End: 25}, {Start: 40, End: 45}},
				Selected:  true,
			},
			{
				Type:      entity.TypePhone,
				Source:    entity.SourceRegex,
				Positions: []entity.Position{{Start: 60, End: 74}},
				Selected:  true,
			},
			{
				Type:      entity.TypePerson,
				Source:    entity.SourceManual,
				Positions: []entity.Position{{Start: 80, End: 90}},
				Selected:  false,
			},
		}

		report := Compute(entities)
		if report.TotalEntities != 3 {
			t.Errorf("TotalEntities = %d, want 3", report.TotalEntities)
		}
		if report.TotalOccurrences != 5 {
			t.Errorf("TotalOccurrences = %d, want 5", report.TotalOccurrences)
		}
		if report.SelectedEntities != 2 {
			t.Errorf("SelectedEntities = %d, want 2", report.SelectedEntities)
		}
		if report.ByType[entity.TypePerson] != 2 {
			t.Errorf("ByType[person] = %d, want 2", report.ByType[entity.TypePerson])
		}
		if report.BySource[entity.SourceRegex] != 1 {
			t.Errorf("BySource[REGEX] = %d, want 1", report.BySource[entity.SourceRegex])
		}
	})
}
