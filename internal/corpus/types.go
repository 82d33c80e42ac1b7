package corpus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fbellamy/anonymiseur/internal/entity"
)

// Record is one annotated document from an evaluation corpus. The
// annotation column carries the gold spans as a JSON array so the same
// shape works for CSV, Parquet and JSON-lines inputs.
type Record struct {
	Text        string `csv:"text" parquet:"text" json:"text"`
	Annotations string `csv:"annotations" parquet:"annotations" json:"-"`

	Gold []GoldSpan `csv:"-" parquet:"-" json:"annotations"`
}

// GoldSpan is one human-annotated occurrence of personal data.
type GoldSpan struct {
	Type  entity.Type `json:"type"`
	Start int         `json:"start"`
	End   int         `json:"end"`
	Text  string      `json:"text,omitempty"`
}

// decodeGold populates Gold from the JSON annotation column when the
// input format stores annotations as a string.
func (r *Record) decodeGold() error {
	if len(r.Gold) > 0 || strings.TrimSpace(r.Annotations) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(r.Annotations), &r.Gold); err != nil {
		return fmt.Errorf("decode annotations: %w", err)
	}
	return nil
}

// TypeMetrics holds precision and recall counters for one entity type.
type TypeMetrics struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// Precision is TP / (TP + FP); 0 when nothing was predicted.
func (m TypeMetrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN); 0 when the corpus has no gold spans.
func (m TypeMetrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m TypeMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Result aggregates an evaluation run over one corpus file.
type Result struct {
	TotalRecords  int64                          `json:"total_records"`
	EvaluatedOK   int64                          `json:"evaluated_ok"`
	Failed        int64                          `json:"failed"`
	DegradedRuns  int64                          `json:"degraded_runs"`
	ByType        map[entity.Type]*TypeMetrics   `json:"by_type"`
	Overall       TypeMetrics                    `json:"overall"`
	Duration      time.Duration                  `json:"duration"`
	Errors        []string                       `json:"errors,omitempty"`
}

// Config controls an evaluation run.
type Config struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount int    `yaml:"worker_count" mapstructure:"worker_count"`
	MaxErrors   int    `yaml:"max_errors" mapstructure:"max_errors"`
}

// FileFormat identifies a supported corpus file format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat picks the format from the file extension.
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".jsonl"):
		return FormatJSON
	default:
		return FormatCSV
	}
}
