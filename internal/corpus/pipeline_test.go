package corpus

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/pipeline"
	"github.com/fbellamy/anonymiseur/internal/reconcile"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	log := logger.NewNop()

	pattern, err := detect.NewPattern(config.DetectionConfig{Rules: []string{"all"}}, log)
	if err != nil {
		t.Fatalf("Failed to create pattern detector: %v", err)
	}
	ner := detect.NewNER(config.NERConfig{
		Enabled:   false,
		ModelPath: t.TempDir(),
		Timeout:   time.Second,
	}, log)
	t.Cleanup(func() { ner.Close() })
	ollama := detect.NewOllama(config.OllamaConfig{
		URL:     "http://127.0.0.1:1",
		Timeout: time.Second,
	}, log)

	p := pipeline.New(pattern, ner, ollama, reconcile.New(log), nil, log)
	return NewEvaluator(p, &Config{Mode: "standard", WorkerCount: 2}, log)
}

func goldJSON(t *testing.T, spans []GoldSpan) string {
	t.Helper()
	encoded, err := json.Marshal(spans)
	if err != nil {
		t.Fatal(err)
	}
	return string(encoded)
}

func spanOf(t *testing.T, text, sub string, typ entity.Type) GoldSpan {
	t.Helper()
	start := strings.Index(text, sub)
	if start < 0 {
		t.Fatalf("%q not in %q", sub, text)
	}
	return GoldSpan{Type: typ, Start: start, End: start + len(sub), Text: sub}
}

func TestEvaluateCSV(t *testing.T) {
	e := newTestEvaluator(t)

	doc1 := "Appeler le 06 12 34 56 78 ou écrire à jean@exemple.fr avant mardi."
	doc2 := "Le tribunal statue sur le fond sans référence."

	gold1 := []GoldSpan{
		spanOf(t, doc1, "06 12 34 56 78", entity.TypePhone),
		spanOf(t, doc1, "jean@exemple.fr", entity.TypeEmail),
		// Annotated but undetectable by regex: a person name.
		spanOf(t, doc1, "mardi", entity.TypePerson),
	}

	path := filepath.Join(t.TempDir(), "corpus.csv")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(file)
	records := [][]string{
		{"text", "annotations"},
		{doc1, goldJSON(t, gold1)},
		{doc2, "[]"},
	}
	if err := w.WriteAll(records); err != nil {
		t.Fatal(err)
	}
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}

	result, err := e.EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}

	if result.TotalRecords != 2 || result.EvaluatedOK != 2 || result.Failed != 0 {
		t.Fatalf("Counts = %d/%d/%d, want 2/2/0",
			result.TotalRecords, result.EvaluatedOK, result.Failed)
	}

	phone := result.ByType[entity.TypePhone]
	if phone == nil || phone.TruePositives != 1 || phone.FalsePositives != 0 || phone.FalseNegatives != 0 {
		t.Errorf("Phone metrics = %+v, want one true positive", phone)
	}
	person := result.ByType[entity.TypePerson]
	if person == nil || person.FalseNegatives != 1 {
		t.Errorf("Person metrics = %+v, want one false negative", person)
	}
	if p := result.Overall.Precision(); p != 1.0 {
		t.Errorf("Overall precision = %f, want 1.0", p)
	}
	if r := result.Overall.Recall(); r <= 0.5 || r >= 1.0 {
		t.Errorf("Overall recall = %f, want 2/3", r)
	}
}

func TestEvaluateJSONLines(t *testing.T) {
	e := newTestEvaluator(t)

	doc := "SIRET 73282932000074 enregistré."
	gold := []GoldSpan{spanOf(t, doc, "73282932000074", entity.TypeSiret)}

	path := filepath.Join(t.TempDir(), "corpus.json")
	line, err := json.Marshal(map[string]interface{}{
		"text":        doc,
		"annotations": gold,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(line, '\n'), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}
	if result.Overall.TruePositives != 1 || result.Overall.F1() != 1.0 {
		t.Errorf("Overall = %+v, want a perfect score", result.Overall)
	}
}

func TestEvaluateRecordsFailures(t *testing.T) {
	e := newTestEvaluator(t)

	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "text,annotations\n" +
		",[]\n" + // empty document text
		"\"du texte sans annotation\",not-json\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.EvaluateFile(context.Background(), path)
	if err != nil {
		t.Fatalf("EvaluateFile failed: %v", err)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2: %v", result.Failed, result.Errors)
	}
	if len(result.Errors) == 0 {
		t.Error("No error messages recorded")
	}
}

func TestDetectFileFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"corpus.csv":     FormatCSV,
		"corpus.parquet": FormatParquet,
		"corpus.json":    FormatJSON,
		"corpus.jsonl":   FormatJSON,
		"corpus.txt":     FormatCSV,
	}
	for name, want := range cases {
		if got := DetectFileFormat(name); got != want {
			t.Errorf("DetectFileFormat(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestTypeMetrics(t *testing.T) {
	m := TypeMetrics{TruePositives: 8, FalsePositives: 2, FalseNegatives: 8}
	if p := m.Precision(); p != 0.8 {
		t.Errorf("Precision = %f, want 0.8", p)
	}
	if r := m.Recall(); r != 0.5 {
		t.Errorf("Recall = %f, want 0.5", r)
	}
	want := 2 * 0.8 * 0.5 / 1.3
	if f := m.F1(); fmt.Sprintf("%.6f", f) != fmt.Sprintf("%.6f", want) {
		t.Errorf("F1 = %f, want %f", f, want)
	}

	var zero TypeMetrics
	if zero.Precision() != 0 || zero.Recall() != 0 || zero.F1() != 0 {
		t.Error("Zero metrics should report zero, not NaN")
	}
}
