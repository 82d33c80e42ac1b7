package reconcile

import (
	"reflect"
	"strings"
	"testing"

	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
)

func cand(text string, typ entity.Type, source entity.Source, confidence float64, start, end int) detect.Candidate {
	return detect.Candidate{
		Text:       text,
		Type:       typ,
		Source:     source,
		Confidence: confidence,
		Span:       entity.Position{Start: start, End: end},
	}
}

func TestReconcileEmpty(t *testing.T) {
	r := New(logger.NewNop())
	got := r.Reconcile(nil, []detect.Candidate{})
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", got)
	}
}

func TestReconcilePriority(t *testing.T) {
	r := New(logger.NewNop())

	t.Run("RegexBeatsNER", func(t *testing.T) {
		regex := []detect.Candidate{cand("06 12 34 56 78", entity.TypePhone, entity.SourceRegex, 1.0, 10, 24)}
		ner := []detect.Candidate{cand("06 12 34 56 78", entity.TypeAddress, entity.SourceNER, 0.99, 12, 26)}

		got := r.Reconcile(regex, ner)
		if len(got) != 1 {
			t.Fatalf("Got %d entities, want 1", len(got))
		}
		if got[0].Source != entity.SourceRegex {
			t.Errorf("Winner source = %s, want REGEX", got[0].Source)
		}
	})

	t.Run("ManualBeatsRegex", func(t *testing.T) {
		manual := []detect.Candidate{cand("Jean Dupont", entity.TypePerson, entity.SourceManual, 1.0, 10, 21)}
		regex := []detect.Candidate{cand("Dupont", entity.TypePerson, entity.SourceRegex, 1.0, 15, 21)}

		got := r.Reconcile(regex, manual)
		if len(got) != 1 {
			t.Fatalf("Got %d entities, want 1: %+v", len(got), got)
		}
		if got[0].Source != entity.SourceManual {
			t.Errorf("Winner source = %s, want MANUAL", got[0].Source)
		}
		if got[0].Text != "Jean Dupont" {
			t.Errorf("Winner text = %q, want %q", got[0].Text, "Jean Dupont")
		}
	})

	t.Run("ConfidenceBreaksTieWithinSource", func(t *testing.T) {
		ner := []detect.Candidate{
			cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.82, 0, 11),
			cand("Dupont", entity.TypeOrganization, entity.SourceNER, 0.91, 5, 11),
		}

		got := r.Reconcile(ner)
		if len(got) != 1 {
			t.Fatalf("Got %d entities, want 1: %+v", len(got), got)
		}
		if got[0].Confidence != 0.91 {
			t.Errorf("Winner confidence = %f, want 0.91", got[0].Confidence)
		}
	})

	t.Run("LongerSpanWinsOnEqualEverything", func(t *testing.T) {
		ner := []detect.Candidate{
			cand("Jean", entity.TypePerson, entity.SourceNER, 0.9, 0, 4),
			cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.9, 0, 11),
		}

		got := r.Reconcile(ner)
		if len(got) != 1 {
			t.Fatalf("Got %d entities, want 1", len(got))
		}
		if got[0].Text != "Jean Dupont" {
			t.Errorf("Winner text = %q, want %q", got[0].Text, "Jean Dupont")
		}
	})
}

func TestReconcileCollapsesDuplicates(t *testing.T) {
	r := New(logger.NewNop())

	regex := []detect.Candidate{cand("jean@exemple.fr", entity.TypeEmail, entity.SourceRegex, 1.0, 5, 20)}
	ner := []detect.Candidate{cand("Jean@Exemple.fr", entity.TypeEmail, entity.SourceNER, 0.8, 5, 20)}

	got := r.Reconcile(regex, ner)
	if len(got) != 1 {
		t.Fatalf("Got %d entities, want 1", len(got))
	}
	if got[0].Source != entity.SourceRegex {
		t.Errorf("Duplicate collapsed to %s, want REGEX", got[0].Source)
	}
	if len(got[0].Positions) != 1 {
		t.Errorf("Duplicate produced %d positions, want 1", len(got[0].Positions))
	}
}

func TestReconcileGroupsOccurrences(t *testing.T) {
	r := New(logger.NewNop())

	ner := []detect.Candidate{
		cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.9, 0, 11),
		cand("Marie Martin", entity.TypePerson, entity.SourceNER, 0.9, 20, 32),
		cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.9, 50, 61),
	}

	got := r.Reconcile(ner)
	if len(got) != 2 {
		t.Fatalf("Got %d entities, want 2: %+v", len(got), got)
	}

	// Document order: Jean Dupont first, two occurrences.
	if got[0].Text != "Jean Dupont" || len(got[0].Positions) != 2 {
		t.Errorf("First entity = %q with %d positions, want Jean Dupont with 2",
			got[0].Text, len(got[0].Positions))
	}
	if got[0].Replacement != "Personne A" {
		t.Errorf("First person replacement = %q, want Personne A", got[0].Replacement)
	}
	if got[1].Replacement != "Personne B" {
		t.Errorf("Second person replacement = %q, want Personne B", got[1].Replacement)
	}
}

func TestReconcileKeepsVerbatimTextPerPosition(t *testing.T) {
	r := New(logger.NewNop())

	// "rencontré" is 10 bytes, so the second name starts at byte 25.
	doc := "Jean Dupont a rencontré JEAN DUPONT au tribunal."
	ner := []detect.Candidate{
		cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.9, 0, 11),
		cand("JEAN DUPONT", entity.TypePerson, entity.SourceNER, 0.9, 25, 36),
	}

	got := r.Reconcile(ner)
	if len(got) != 2 {
		t.Fatalf("Got %d entities, want 2 (case-differing spellings must stay separate): %+v", len(got), got)
	}
	for _, e := range got {
		for _, p := range e.Positions {
			if slice := doc[p.Start:p.End]; slice != e.Text {
				t.Errorf("Entity %q position [%d,%d) covers %q", e.Text, p.Start, p.End, slice)
			}
		}
	}
}

func TestReconcileDefaultReplacements(t *testing.T) {
	r := New(logger.NewNop())

	got := r.Reconcile([]detect.Candidate{
		cand("06 12 34 56 78", entity.TypePhone, entity.SourceRegex, 1.0, 0, 14),
		cand("Cabinet Martin", entity.TypeOrganization, entity.SourceNER, 0.85, 20, 34),
	})
	if len(got) != 2 {
		t.Fatalf("Got %d entities, want 2", len(got))
	}
	if got[0].Replacement != entity.DefaultReplacement(entity.TypePhone) {
		t.Errorf("Phone replacement = %q", got[0].Replacement)
	}
	if got[1].Replacement != "Organisation A" {
		t.Errorf("Organization replacement = %q, want Organisation A", got[1].Replacement)
	}
	for _, e := range got {
		if !e.Selected {
			t.Errorf("Entity %q not selected by default", e.Text)
		}
	}
}

func TestReconcileOutputNeverOverlaps(t *testing.T) {
	r := New(logger.NewNop())

	// Dense synthetic overlaps across sources and types.
	var lists [][]detect.Candidate
	sources := []entity.Source{entity.SourceRegex, entity.SourceNER, entity.SourceOllama}
	for s, source := range sources {
		var list []detect.Candidate
		for i := 0; i < 40; i++ {
			start := (i * 7) % 120
			end := start + 3 + (i+s)%9
			list = append(list, cand(
				strings.Repeat("x", end-start),
				entity.TypeLegal,
				source,
				0.5+float64(i%5)/10,
				start, end,
			))
		}
		lists = append(lists, list)
	}

	got := r.Reconcile(lists...)
	var spans []entity.Position
	for _, e := range got {
		spans = append(spans, e.Positions...)
	}
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].Overlaps(spans[j]) {
				t.Fatalf("Output spans [%d,%d) and [%d,%d) overlap",
					spans[i].Start, spans[i].End, spans[j].Start, spans[j].End)
			}
		}
	}
}

func TestReconcileDeterministicIDs(t *testing.T) {
	r := New(logger.NewNop())
	input := []detect.Candidate{
		cand("jean@exemple.fr", entity.TypeEmail, entity.SourceRegex, 1.0, 5, 20),
		cand("Jean Dupont", entity.TypePerson, entity.SourceNER, 0.9, 30, 41),
	}

	first := r.Reconcile(input)
	second := r.Reconcile(input)
	if !reflect.DeepEqual(first, second) {
		t.Error("Reconciliation is not deterministic for identical input")
	}
	for _, e := range first {
		if e.ID == "" {
			t.Errorf("Entity %q has no id", e.Text)
		}
	}
}

func TestLetterName(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 51: "AZ", 52: "BA"}
	for n, want := range cases {
		if got := letterName(n); got != want {
			t.Errorf("letterName(%d) = %q, want %q", n, got, want)
		}
	}
}
