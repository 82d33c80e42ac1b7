package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/reconcile"
)

const testText = "Jean DUPONT, joignable au 06.12.34.56.78 ou par jean.dupont@cabinet-martin.fr, " +
	"SIRET 73282932000074, affaire RG 24/12345."

// newTestPipeline builds a pipeline whose statistical detectors are both
// unavailable: the NER model path does not exist and the Ollama host
// does not listen.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	log := logger.NewNop()

	pattern, err := detect.NewPattern(config.DetectionConfig{Rules: []string{"all"}}, log)
	if err != nil {
		t.Fatalf("Failed to create pattern detector: %v", err)
	}

	ner := detect.NewNER(config.NERConfig{
		Enabled:   true,
		ModelPath: t.TempDir() + "/missing-model",
		Timeout:   time.Second,
	}, log)
	t.Cleanup(func() { ner.Close() })

	ollama := detect.NewOllama(config.OllamaConfig{
		URL:     "http://127.0.0.1:1",
		Model:   "llama3.2:3b",
		Timeout: time.Second,
	}, log)

	return New(pattern, ner, ollama, reconcile.New(log), nil, log)
}

func TestProcessStandard(t *testing.T) {
	p := newTestPipeline(t)

	result, err := p.Process(context.Background(), testText, ModeStandard, nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.ModeUsed != ModeStandard {
		t.Errorf("ModeUsed = %s, want standard", result.ModeUsed)
	}
	if result.Degraded {
		t.Error("Standard mode reported degraded")
	}
	if len(result.Entities) != 4 {
		t.Fatalf("Got %d entities, want 4: %+v", len(result.Entities), result.Entities)
	}

	byType := make(map[entity.Type]int)
	for _, e := range result.Entities {
		byType[e.Type]++
		if !e.Selected {
			t.Errorf("Entity %q not selected", e.Text)
		}
		if e.ID == "" {
			t.Errorf("Entity %q has no id", e.Text)
		}
	}
	for _, typ := range []entity.Type{entity.TypePhone, entity.TypeEmail, entity.TypeSiret, entity.TypeLegal} {
		if byType[typ] != 1 {
			t.Errorf("ByType[%s] = %d, want 1", typ, byType[typ])
		}
	}
}

func TestProcessDeterministic(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Process(ctx, testText, ModeStandard, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(ctx, testText, ModeStandard, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Entities) != len(second.Entities) {
		t.Fatal("Entity counts differ between identical runs")
	}
	for i := range first.Entities {
		if first.Entities[i].ID != second.Entities[i].ID {
			t.Errorf("Entity %d id differs between runs", i)
		}
	}
}

func TestProcessDegradesWhenNERUnavailable(t *testing.T) {
	p := newTestPipeline(t)

	result, err := p.Process(context.Background(), testText, ModeAdvanced, nil)
	if err != nil {
		t.Fatalf("Process failed instead of degrading: %v", err)
	}
	if !result.Degraded {
		t.Error("Expected degraded result")
	}
	if result.ModeUsed != ModeStandard {
		t.Errorf("ModeUsed = %s, want standard", result.ModeUsed)
	}
	if len(result.Entities) != 4 {
		t.Errorf("Pattern results lost on degrade: got %d entities", len(result.Entities))
	}
}

func TestProcessDegradesWhenOllamaUnreachable(t *testing.T) {
	p := newTestPipeline(t)

	result, err := p.Process(context.Background(), testText, ModeOllama, nil)
	if err != nil {
		t.Fatalf("Process failed instead of degrading: %v", err)
	}
	if !result.Degraded || result.ModeUsed != ModeStandard {
		t.Errorf("Degraded = %v, ModeUsed = %s; want degraded standard", result.Degraded, result.ModeUsed)
	}
}

func TestProcessUnknownMode(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.Process(context.Background(), testText, Mode("turbo"), nil)
	if !errors.Is(err, entity.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestKnownMode(t *testing.T) {
	for _, m := range []Mode{ModeStandard, ModeAdvanced, ModeOllama} {
		if !KnownMode(m) {
			t.Errorf("%s should be a known mode", m)
		}
	}
	if KnownMode(Mode("turbo")) {
		t.Error("turbo should not be a known mode")
	}
}

func TestCapabilitiesUnavailable(t *testing.T) {
	p := newTestPipeline(t)

	caps := p.Capabilities(context.Background())
	if caps.NERAvailable {
		t.Error("NER reported available without a model")
	}
	if caps.OllamaAvailable {
		t.Error("Ollama reported available without a server")
	}
}
