package rewrite

import (
	"errors"
	"strings"
	"testing"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

func ent(id, text string, typ entity.Type, replacement string, selected bool, spans ...entity.Position) entity.Entity {
	return entity.Entity{
		ID:          id,
		Text:        text,
		Type:        typ,
		Source:      entity.SourceRegex,
		Confidence:  1.0,
		Positions:   spans,
		Replacement: replacement,
		Selected:    selected,
	}
}

func TestRewriteNothingSelected(t *testing.T) {
	original := "Premier paragraphe.\n\nSecond paragraphe avec jean@exemple.fr dedans.\n"
	entities := []entity.Entity{
		ent("e1", "jean@exemple.fr", entity.TypeEmail, "email.anonymise@exemple.fr", false,
			entity.Position{Start: 44, End: 59}),
	}

	result, err := Rewrite(original, entities)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if result.Text != original {
		t.Error("Output differs from original with nothing selected")
	}
	if len(result.Changes) != 0 {
		t.Errorf("Got %d changes, want 0", len(result.Changes))
	}
}

func TestRewriteAppliesReplacements(t *testing.T) {
	original := "Jean appelle le 0612345678 puis écrit à jean@exemple.fr."
	phoneStart := strings.Index(original, "0612345678")
	emailStart := strings.Index(original, "jean@exemple.fr")

	entities := []entity.Entity{
		ent("phone", "0612345678", entity.TypePhone, "06 XX XX XX XX", true,
			entity.Position{Start: phoneStart, End: phoneStart + 10}),
		ent("email", "jean@exemple.fr", entity.TypeEmail, "email.anonymise@exemple.fr", true,
			entity.Position{Start: emailStart, End: emailStart + 15}),
	}

	result, err := Rewrite(original, entities)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	want := "Jean appelle le 06 XX XX XX XX puis écrit à email.anonymise@exemple.fr."
	if result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
	if len(result.Changes) != 2 {
		t.Fatalf("Got %d changes, want 2", len(result.Changes))
	}
	if result.Changes[0].Type != entity.TypePhone || result.Changes[1].Type != entity.TypeEmail {
		t.Error("Changes not recorded in document order")
	}
}

// Length-changing replacements must not corrupt later offsets; the pass
// accounts positions against the original text only.
func TestRewriteLengthChanges(t *testing.T) {
	original := "aaa FOO bbb FOO ccc"
	entities := []entity.Entity{
		ent("e1", "FOO", entity.TypeLegal, "[Référence Anonymisée très longue]", true,
			entity.Position{Start: 4, End: 7},
			entity.Position{Start: 12, End: 15}),
	}

	result, err := Rewrite(original, entities)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	want := "aaa [Référence Anonymisée très longue] bbb [Référence Anonymisée très longue] ccc"
	if result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}
}

func TestRewriteRepeatedTextDistinctReplacements(t *testing.T) {
	// Identical source text replaced differently per entity: positional
	// rewriting must not cross-contaminate the way search-and-replace would.
	original := "Martin contre Martin"
	entities := []entity.Entity{
		ent("p1", "Martin", entity.TypePerson, "Personne A", true, entity.Position{Start: 0, End: 6}),
		ent("p2", "Martin", entity.TypePerson, "Personne B", true, entity.Position{Start: 14, End: 20}),
	}

	result, err := Rewrite(original, entities)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if result.Text != "Personne A contre Personne B" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestRewriteOverlapFails(t *testing.T) {
	original := "abcdefghij"
	entities := []entity.Entity{
		ent("e1", "abcde", entity.TypeLegal, "X", true, entity.Position{Start: 0, End: 5}),
		ent("e2", "defg", entity.TypeLegal, "Y", true, entity.Position{Start: 3, End: 7}),
	}

	_, err := Rewrite(original, entities)
	if !errors.Is(err, entity.ErrOverlap) {
		t.Errorf("Expected ErrOverlap, got %v", err)
	}
}

func TestRewriteInvalidInput(t *testing.T) {
	t.Run("EmptyReplacement", func(t *testing.T) {
		entities := []entity.Entity{
			ent("e1", "abc", entity.TypeLegal, "", true, entity.Position{Start: 0, End: 3}),
		}
		_, err := Rewrite("abcdef", entities)
		if !errors.Is(err, entity.ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("SpanOutOfRange", func(t *testing.T) {
		entities := []entity.Entity{
			ent("e1", "abc", entity.TypeLegal, "X", true, entity.Position{Start: 4, End: 9}),
		}
		_, err := Rewrite("abcdef", entities)
		if !errors.Is(err, entity.ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("UnselectedInvalidSpanIgnored", func(t *testing.T) {
		entities := []entity.Entity{
			ent("e1", "abc", entity.TypeLegal, "X", false, entity.Position{Start: 100, End: 200}),
		}
		result, err := Rewrite("abcdef", entities)
		if err != nil {
			t.Fatalf("Rewrite failed: %v", err)
		}
		if result.Text != "abcdef" {
			t.Errorf("Text = %q", result.Text)
		}
	})
}

func TestRewritePreservesParagraphs(t *testing.T) {
	original := "Premier.\n\nDeuxième avec 0612345678.\n\nTroisième.\n"
	start := strings.Index(original, "0612345678")
	entities := []entity.Entity{
		ent("phone", "0612345678", entity.TypePhone, "06 XX XX XX XX", true,
			entity.Position{Start: start, End: start + 10}),
	}

	result, err := Rewrite(original, entities)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if strings.Count(result.Text, "\n\n") != strings.Count(original, "\n\n") {
		t.Error("Paragraph breaks not preserved")
	}
	if !strings.HasSuffix(result.Text, "Troisième.\n") {
		t.Error("Trailing text not preserved")
	}
}
